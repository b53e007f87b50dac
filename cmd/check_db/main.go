package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Inspects the shape_nodes table: per-page counts, orphaned parent
// references, and version anomalies. Run against a live database when a
// page renders wrong.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("Connected to database")
	fmt.Println()

	var pages []struct {
		PageID string
		Count  int64
	}
	db.Raw(`SELECT page_id, COUNT(*) AS count FROM shape_nodes GROUP BY page_id ORDER BY count DESC`).Scan(&pages)
	fmt.Printf("Pages: %d\n", len(pages))
	for _, p := range pages {
		fmt.Printf("  %s  %d shapes\n", p.PageID, p.Count)
	}
	fmt.Println()

	// Parent references that point at a missing or cross-page shape break
	// the transform chain; those shapes render at world origin.
	var orphans []struct {
		ID       string
		ParentID string
	}
	db.Raw(`
		SELECT s.id, s.parent_id FROM shape_nodes s
		LEFT JOIN shape_nodes p ON p.id = s.parent_id AND p.page_id = s.page_id
		WHERE s.parent_id IS NOT NULL AND p.id IS NULL`).Scan(&orphans)
	if len(orphans) == 0 {
		fmt.Println("No orphaned parent references")
	} else {
		fmt.Printf("Orphaned parent references: %d\n", len(orphans))
		for _, o := range orphans {
			fmt.Printf("  shape %s -> missing parent %s\n", o.ID, o.ParentID)
		}
	}
	fmt.Println()

	var badVersions int64
	db.Raw(`SELECT COUNT(*) FROM shape_nodes WHERE version < 1`).Scan(&badVersions)
	if badVersions > 0 {
		fmt.Printf("WARNING: %d shapes with version < 1\n", badVersions)
	} else {
		fmt.Println("All versions >= 1")
	}

	var frames int64
	db.Raw(`SELECT COUNT(*) FROM shape_nodes WHERE type IN ('frame', 'group')`).Scan(&frames)
	fmt.Printf("Containers: %d\n", frames)
}
