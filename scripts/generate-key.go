// Package main is a development utility for generating the secrets the server
// needs before first start: the session signing secret and an audit spool
// passphrase. It prints ready-to-paste export lines so developers can bring up
// a local instance without inventing weak secrets by hand. Do not reuse
// generated values across environments — production secrets belong in the
// deployment's secret store.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	fmt.Println("==========================================================")
	fmt.Println("PracticeDesk Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport PD_AUTH_SESSION_SECRET=%s\n", randomSecret())
	fmt.Printf("export PD_AUDIT_SPOOL_PASSPHRASE=%s\n", randomSecret())
	fmt.Println("\n==========================================================")
	fmt.Println("The session secret signs every issued session token;")
	fmt.Println("rotating it invalidates all active sessions.")
	fmt.Println("==========================================================")
}

func randomSecret() string {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes)
}
