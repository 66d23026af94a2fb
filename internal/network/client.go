package network

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const DefaultTimeout = 30 * time.Second

// NewClient создает http.Client для обращений к API каталога.
// Если задан proxyAddr, соединения идут через этот SOCKS5-прокси.
func NewClient(proxyAddr string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	proxyAddr = strings.TrimSpace(proxyAddr)
	if proxyAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к SOCKS5 (%s): %w", proxyAddr, err)
	}

	transport := &http.Transport{
		Dial:              dialer.Dial,
		DisableKeepAlives: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
