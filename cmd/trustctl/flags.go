package main

import (
	"time"

	cli "gopkg.in/urfave/cli.v1"
)

var (
	signingKeyFlag = cli.StringFlag{
		Name:   "signing-key",
		Usage:  "HS256 key shared with the server",
		EnvVar: "JWT_SIGNING_KEY",
	}
	issuerFlag = cli.StringFlag{
		Name:   "issuer",
		Value:  "trustcore",
		Usage:  "token issuer",
		EnvVar: "JWT_ISSUER",
	}
	subjectFlag = cli.StringFlag{
		Name:  "subject",
		Usage: "account id the token authenticates",
	}
	capsFlag = cli.StringSliceFlag{
		Name:  "cap",
		Usage: "capability to grant (registrar|submitter|authority|oracle), repeatable",
	}
	ttlFlag = cli.DurationFlag{
		Name:  "ttl",
		Value: time.Hour,
		Usage: "token lifetime",
	}
	databaseURLFlag = cli.StringFlag{
		Name:   "database-url",
		Usage:  "postgres connection string",
		EnvVar: "DATABASE_URL",
	}
)
