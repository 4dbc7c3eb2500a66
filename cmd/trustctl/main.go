// Command trustctl is the operator tool: it issues capability tokens and
// applies the database schema.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"trustcore/internal/authz"
	"trustcore/internal/platform/config"
	"trustcore/internal/platform/postgres"
	id "trustcore/pkg/domain"
)

func main() {
	app := cli.NewApp()
	app.Name = "trustctl"
	app.Usage = "trustcore operator tool"
	app.Commands = []cli.Command{
		{
			Name:   "token",
			Usage:  "issue a bearer token carrying capabilities",
			Flags:  []cli.Flag{signingKeyFlag, issuerFlag, subjectFlag, capsFlag, ttlFlag},
			Action: issueToken,
		},
		{
			Name:   "migrate",
			Usage:  "apply the postgres schema",
			Flags:  []cli.Flag{databaseURLFlag},
			Action: migrate,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func issueToken(ctx *cli.Context) error {
	key := ctx.String(signingKeyFlag.Name)
	if key == "" {
		return errors.New("-signing-key is required")
	}
	subject, err := id.ParseAccountID(ctx.String(subjectFlag.Name))
	if err != nil {
		return errors.Wrap(err, "-subject")
	}
	var caps []authz.Capability
	for _, raw := range ctx.StringSlice(capsFlag.Name) {
		c, err := authz.ParseCapability(raw)
		if err != nil {
			return errors.Wrap(err, "-cap")
		}
		caps = append(caps, c)
	}
	ttl := ctx.Duration(ttlFlag.Name)
	if ttl <= 0 {
		return errors.New("-ttl must be positive")
	}

	token, err := authz.NewTokenService(key, ctx.String(issuerFlag.Name)).Issue(subject, caps, ttl)
	if err != nil {
		return errors.Wrap(err, "sign token")
	}
	fmt.Println(token)
	return nil
}

func migrate(ctx *cli.Context) error {
	url := ctx.String(databaseURLFlag.Name)
	if url == "" {
		return errors.New("-database-url is required")
	}
	runCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Open(runCtx, config.PostgresConfig{
		URL:             url,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer db.Close()

	if err := postgres.Migrate(runCtx, db); err != nil {
		return errors.Wrap(err, "migrate")
	}
	fmt.Println("schema applied")
	return nil
}
