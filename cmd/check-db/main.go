// Package main is a diagnostic tool for testing database connectivity and
// inspecting live security-core data. It connects to the database, summarizes
// the users, user_sessions, and audit_logs tables, and prints the result to
// stdout. The binary exits with a non-zero code on any failure so it can be
// embedded in health checks or CI/CD pipeline steps to gate deployments on a
// reachable, migrated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "practicedesk"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=practicedesk password=%s dbname=practicedesk sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check staff accounts
	fmt.Println("=== USERS ===")
	rows, err := db.Query("SELECT id, username, role, active FROM users ORDER BY id")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var username, role string
		var active bool
		if err := rows.Scan(&id, &username, &role, &active); err != nil {
			log.Printf("Warning: failed to scan user row: %v", err)
			continue
		}
		state := "active"
		if !active {
			state = "deactivated"
		}
		fmt.Printf("User: %s (%s, %s, ID: %d)\n", username, role, state, id)
	}

	// Check live sessions
	fmt.Println("\n=== ACTIVE SESSIONS ===")
	var sessions int
	if err := db.QueryRow("SELECT COUNT(*) FROM user_sessions WHERE expires_at > NOW()").Scan(&sessions); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Live sessions: %d\n", sessions)

	// Check the audit trail
	fmt.Println("\n=== AUDIT TRAIL ===")
	rows2, err := db.Query(`
		SELECT action, COUNT(*) FROM audit_logs
		WHERE occurred_at > NOW() - INTERVAL '24 hours'
		GROUP BY action ORDER BY COUNT(*) DESC`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var action string
		var n int
		if err := rows2.Scan(&action, &n); err != nil {
			log.Printf("Warning: failed to scan audit row: %v", err)
			continue
		}
		fmt.Printf("Action: %-24s %d\n", action, n)
		count++
	}

	if count == 0 {
		fmt.Println("No audit entries in the last 24 hours!")
	}
}
