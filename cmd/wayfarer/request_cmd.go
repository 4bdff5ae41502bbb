package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"wayfarer/cmd/internal/transport"

	"github.com/spf13/cobra"
)

var requestMethods = map[string]string{
	"get":    http.MethodGet,
	"post":   http.MethodPost,
	"put":    http.MethodPut,
	"patch":  http.MethodPatch,
	"delete": http.MethodDelete,
}

func newRequestCommand(c *cli, name string) *cobra.Command {
	method := requestMethods[name]
	var (
		query []string
		data  string
	)
	cmd := &cobra.Command{
		Use:   name + " <path>",
		Short: fmt.Sprintf("Send a %s request and print the response", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			d := transport.NewDescriptor(method, path, nil)

			q, err := parseQuery(query)
			if err != nil {
				return err
			}
			d.Query = q

			if data != "" {
				if !transport.IsStateChanging(method) {
					return fmt.Errorf("--data is not allowed with %s", method)
				}
				body, err := readData(data, cmd.InOrStdin())
				if err != nil {
					return err
				}
				d.Payload = body
			}

			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			resp, err := cl.Do(cmd.Context(), d)
			if err != nil {
				return describe(err)
			}
			return writeBody(cmd.OutOrStdout(), c.output(), resp.Body)
		},
	}
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter key=value (repeatable)")
	if transport.IsStateChanging(method) && method != http.MethodDelete {
		cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, @file to read a file, or - for stdin")
	}
	return cmd
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query %q (want key=value)", p)
		}
		q.Add(k, v)
	}
	return q, nil
}

// readData resolves --data into a validated JSON document.
func readData(data string, stdin io.Reader) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case data == "-":
		b, err = io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		b, err = os.ReadFile(data[1:])
	default:
		b = []byte(data)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(b) {
		return nil, errors.New("body is not valid JSON")
	}
	return json.RawMessage(b), nil
}

// describe adds the server's error code to HTTP failures.
func describe(err error) error {
	var herr *transport.HTTPError
	if errors.As(err, &herr) {
		if code := herr.Code(); code != "" {
			return fmt.Errorf("%w [%s: %s]", err, code, herr.Message())
		}
	}
	return err
}
