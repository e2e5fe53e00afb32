package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print a token for a resource, renewing it silently if needed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "resource",
				Usage: "resource to acquire a token for (defaults to the login resource)",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "derive the resource from a configured endpoint URL",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "print only the access token",
			},
		},
		Action: tokenAction,
	}
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	application, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	auth := application.Auth()

	resource := cmd.String("resource")
	if endpoint := cmd.String("endpoint"); endpoint != "" {
		resource = auth.ResourceForEndpoint(endpoint)
		if resource == "" {
			return fmt.Errorf("endpoint %s does not need a token", endpoint)
		}
	}
	if resource == "" {
		resource = auth.Config().LoginResource
	}

	token, err := auth.AcquireTokenWait(ctx, resource)
	if err != nil {
		return fmt.Errorf("acquiring token for %s: %w", resource, err)
	}

	if cmd.Bool("raw") {
		fmt.Println(token.AccessToken)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(token)
}
