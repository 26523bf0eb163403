package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"

	"github.com/gqlwatch/gqlwatch"
	"github.com/gqlwatch/gqlwatch/transport"
)

func parseVariables(pairs []string) (gqlwatch.Variables, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	variables := gqlwatch.Variables{}
	for _, pair := range pairs {
		eq := strings.IndexByte(pair, '=')
		if eq < 1 {
			return nil, fmt.Errorf("variables must be given as name=value, got %q", pair)
		}
		name, value := pair[:eq], pair[eq+1:]

		// Values that parse as JSON are passed through typed; anything else is
		// a plain string.
		var parsed interface{}
		if err := jsoniter.UnmarshalFromString(value, &parsed); err == nil {
			variables[name] = parsed
		} else {
			variables[name] = value
		}
	}
	return variables, nil
}

func run() error {
	url := pflag.String("url", "", "the GraphQL endpoint url")
	query := pflag.String("query", "", "the query document to execute")
	operation := pflag.String("operation", "", "the operation name")
	vars := pflag.StringArrayP("var", "v", nil, "a variable, as name=value (repeatable)")
	useWS := pflag.Bool("ws", false, "execute over a graphql-ws websocket connection")
	persisted := pflag.Bool("persisted-queries", false, "use automatic persisted queries (http only)")
	timeout := pflag.Duration("timeout", 30*time.Second, "time to wait for the result")
	pflag.Parse()

	if *url == "" {
		return fmt.Errorf("the --url flag is required")
	}
	if *query == "" {
		return fmt.Errorf("the --query flag is required")
	}

	var tp transport.Transport
	if *useWS {
		wsTransport := &transport.GraphQLWSTransport{URL: *url}
		defer wsTransport.Close()
		tp = wsTransport
	} else {
		tp = &transport.HTTPTransport{
			URL:              *url,
			PersistedQueries: *persisted,
		}
	}

	client, err := gqlwatch.NewClient(&gqlwatch.Config{Transport: tp})
	if err != nil {
		return err
	}

	variables, err := parseVariables(*vars)
	if err != nil {
		return err
	}

	binding, err := client.Bind(&gqlwatch.QueryDefinition{
		Name:  *operation,
		Query: *query,
	}, gqlwatch.Active(variables))
	if err != nil {
		return err
	}
	defer binding.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for {
		switch binding.State() {
		case gqlwatch.StateData:
			fmt.Println(string(binding.Data()))
			return nil
		case gqlwatch.StateError:
			return binding.Err()
		}
		select {
		case <-binding.Updates():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
