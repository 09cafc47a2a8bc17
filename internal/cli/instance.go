package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/instanceconf"
)

var addInstanceArgs struct {
	pghost       string
	pgport       int
	pguser       string
	pgdata       string
	externalDirs []string
	archiveDir   string
}

var addInstanceCmd = &cobra.Command{
	Use:   "add-instance",
	Short: "Register a new instance within the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		c := &instanceconf.Config{
			PGHost:       addInstanceArgs.pghost,
			PGPort:       addInstanceArgs.pgport,
			PGUser:       addInstanceArgs.pguser,
			DataDir:      addInstanceArgs.pgdata,
			ExternalDirs: addInstanceArgs.externalDirs,
			ArchiveDir:   addInstanceArgs.archiveDir,
		}
		if err := instanceconf.Save(cfg.CatalogRoot, cfg.Instance, c); err != nil {
			return err
		}
		fmt.Printf("instance %q added\n", cfg.Instance)
		return nil
	},
}

var delInstanceArgs struct {
	force bool
}

var delInstanceCmd = &cobra.Command{
	Use:   "del-instance",
	Short: "Remove an instance and its configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		if err := instanceconf.Delete(cfg.CatalogRoot, cfg.Instance, delInstanceArgs.force); err != nil {
			return err
		}
		fmt.Printf("instance %q removed\n", cfg.Instance)
		return nil
	},
}

var setConfigArgs struct {
	set []string
}

var setConfigCmd = &cobra.Command{
	Use:   "set-config",
	Short: "Update one instance's persistent configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		c, err := instanceconf.Load(cfg.CatalogRoot, cfg.Instance)
		if err != nil {
			return err
		}
		for _, kv := range setConfigArgs.set {
			if err := c.Set(kv); err != nil {
				return err
			}
		}
		return instanceconf.Save(cfg.CatalogRoot, cfg.Instance, c)
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print one instance's persistent configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		c, err := instanceconf.Load(cfg.CatalogRoot, cfg.Instance)
		if err != nil {
			return err
		}
		for _, line := range c.Lines() {
			fmt.Println(line)
		}
		return nil
	},
}

func loadInstanceConfig() (*instanceconf.Config, error) {
	if err := requireCatalogAndInstance(); err != nil {
		return nil, err
	}
	return instanceconf.Load(cfg.CatalogRoot, cfg.Instance)
}

func requireCatalogAndInstance() error {
	if cfg.CatalogRoot == "" {
		return fmt.Errorf("--catalog-path required")
	}
	if cfg.Instance == "" {
		return fmt.Errorf("--instance required")
	}
	return nil
}

func init() {
	f := addInstanceCmd.Flags()
	f.StringVar(&addInstanceArgs.pghost, "pghost", "", "Database host")
	f.IntVar(&addInstanceArgs.pgport, "pgport", 5432, "Database port")
	f.StringVar(&addInstanceArgs.pguser, "pguser", "", "Database user")
	f.StringVar(&addInstanceArgs.pgdata, "pgdata", "", "Data directory path")
	f.StringSliceVar(&addInstanceArgs.externalDirs, "external-dirs", nil, "Comma-separated external directories")
	f.StringVar(&addInstanceArgs.archiveDir, "archive-dir", "", "WAL archive directory for this instance")

	delInstanceCmd.Flags().BoolVar(&delInstanceArgs.force, "force", false, "Remove even if backups remain")

	setConfigCmd.Flags().StringArrayVar(&setConfigArgs.set, "set", nil, "key=value, repeatable")
}
