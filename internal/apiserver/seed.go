package apiserver

import (
	"context"
	"fmt"
	"log"

	"catalog_project/internal/db"
	"catalog_project/internal/models"
)

var demoRecords = map[string][]map[string]string{
	"subjects": {
		{
			"course":      "Data Structures",
			"bookname":    "Introduction to Algorithms",
			"author":      "Cormen, Leiserson, Rivest, Stein",
			"edition":     "4th",
			"price":       "89.99",
			"description": "Sorting, graphs, dynamic programming and the analysis behind them.",
		},
		{
			"course":      "Operating Systems",
			"bookname":    "Operating System Concepts",
			"author":      "Silberschatz, Galvin, Gagne",
			"edition":     "10th",
			"price":       "74.50",
			"description": "Processes, memory management, file systems and scheduling.",
		},
		{
			"course":      "Networks",
			"bookname":    "Computer Networking: A Top-Down Approach",
			"author":      "Kurose, Ross",
			"edition":     "8th",
			"price":       "65",
			"description": "From HTTP down to the link layer.",
		},
	},
	"products": {
		{"prd_name": "Notebook", "prd_price": "3.5", "prd_desc": "A5, dotted, 120 pages."},
		{"prd_name": "Desk lamp", "prd_price": "24", "prd_desc": "LED, adjustable arm."},
	},
}

// CheckAndSeed adds demo records when the collection is empty.
func CheckAndSeed(ctx context.Context, store *db.Store, schema models.Schema) error {
	n, err := store.Count(ctx, schema.Resource)
	if err != nil {
		return fmt.Errorf("count %s: %w", schema.Resource, err)
	}
	if n > 0 {
		log.Printf("Seed skipped: %d %s already present", n, schema.Resource)
		return nil
	}

	for _, values := range demoRecords[schema.Resource] {
		rec := db.Record{Resource: schema.Resource, Fields: schema.Pick(values)}
		if err := store.Insert(ctx, &rec); err != nil {
			return fmt.Errorf("seed %s: %w", schema.Resource, err)
		}
	}
	log.Printf("Seeded %d demo %s", len(demoRecords[schema.Resource]), schema.Resource)
	return nil
}
