// Command pgbackup takes and restores page-level incremental backups
// of a PostgreSQL cluster.
package main

import (
	"log"

	"github.com/vbp1/pgbackup/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
