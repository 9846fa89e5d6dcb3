package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"propsync/internal/domain"
	mysqlrepo "propsync/internal/storage/mysql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.MySQLDSN == "" {
			return &domain.ConfigError{Field: "MYSQL_DSN", Msg: "required"}
		}
		v, err := mysqlrepo.Migrate(cmd.Context(), cfg.MySQLDSN)
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
