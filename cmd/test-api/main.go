// Package main is a smoke-test utility that verifies the backend's HTTP API
// is reachable and enforcing authentication. It hits the health endpoint
// (expects 200) and the identity endpoint without a session cookie (expects
// 401), making it useful for quick post-deployment checks without needing
// external tooling like curl or a full integration test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("PD_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	failed := false
	failed = !check(base+"/health", http.StatusOK) || failed
	failed = !check(base+"/api/auth/me", http.StatusUnauthorized) || failed

	if failed {
		os.Exit(1)
	}
}

func check(url string, wantStatus int) bool {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("FAIL %s: %v\n", url, err)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("FAIL %s: reading body: %v\n", url, err)
		return false
	}

	if resp.StatusCode != wantStatus {
		fmt.Printf("FAIL %s: status %d, want %d\nResponse:\n%s\n", url, resp.StatusCode, wantStatus, string(body))
		return false
	}
	fmt.Printf("OK   %s: status %d\n", url, resp.StatusCode)
	return true
}
