package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/federated"
)

type federateFlags struct {
	sql        string
	dbs        []string
	rewriter   string
	plannerURL string
	workers    int
	output     outputFlags
}

func (a *app) federateCommand() *cobra.Command {
	ff := &federateFlags{}
	cmd := &cobra.Command{
		Use:   "federate",
		Short: "Run one query across several databases",
		Example: `  quarry federate --sql "SELECT * FROM db1.orders o JOIN db2.users u ON o.uid = u.id" \
    --db db1=postgresql://localhost/orders --db db2=mysql://root@localhost/users -f parquet -o joined.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFederate(cmd, ff)
		},
	}
	f := cmd.Flags()
	f.StringVar(&ff.sql, "sql", "", "Federated query referencing databases by alias")
	f.StringArrayVar(&ff.dbs, "db", nil, "Database as alias=connection-url; repeatable")
	f.StringVar(&ff.rewriter, "rewriter", "", "Path to the query rewriter bundle")
	f.StringVar(&ff.plannerURL, "planner-url", "", "Rewrite through an HTTP planner service instead of the bundle")
	f.IntVar(&ff.workers, "workers", 0, "Concurrent remote plans; 0 uses the configured default")
	ff.output.register(cmd)
	_ = cmd.MarkFlagRequired("sql")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func (a *app) runFederate(cmd *cobra.Command, ff *federateFlags) error {
	ctx := cmd.Context()
	log := a.log.With(zap.String("command", "federate"))

	dbMap, err := parseDatabases(ff.dbs)
	if err != nil {
		return err
	}
	if ff.plannerURL != "" {
		a.cfg.Federated.PlannerURL = ff.plannerURL
	}

	r := federated.NewRunner(
		federated.WithConfig(a.cfg),
		federated.WithWorkers(ff.workers),
		federated.WithLogger(log),
	)
	res, err := r.Run(ctx, ff.sql, dbMap, ff.rewriter)
	if err != nil {
		return err
	}
	defer res.Release()

	_, err = ff.output.write(ctx, log, res.Schema, res.Records)
	return err
}

func parseDatabases(specs []string) (map[string]string, error) {
	dbMap := make(map[string]string, len(specs))
	for _, s := range specs {
		alias, raw, ok := strings.Cut(s, "=")
		alias, raw = strings.TrimSpace(alias), strings.TrimSpace(raw)
		if !ok || alias == "" || raw == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "--db %q is not alias=url", s)
		}
		if _, dup := dbMap[alias]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "database alias %q given twice", alias)
		}
		dbMap[alias] = raw
	}
	return dbMap, nil
}
