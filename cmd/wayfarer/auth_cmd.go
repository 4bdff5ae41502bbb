package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"wayfarer/cmd/internal/client"
	"wayfarer/cmd/internal/renewal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const envPassword = "WAYFARER_PASSWORD"

// readPassword takes the password from WAYFARER_PASSWORD or the first line of
// stdin.
func readPassword(in io.Reader) (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password required (pipe it on stdin or export %s)", envPassword)
	}
	return pw, nil
}

func newLoginCommand(c *cli) *cobra.Command {
	var username, email string
	var remember bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (username == "") == (email == "") {
				return errors.New("exactly one of --username or --email is required")
			}
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			req := client.LoginRequest{Password: pw, RememberMe: remember}
			if username != "" {
				req.Username = &username
			} else {
				req.Email = &email
			}
			out, err := cl.Login(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), c.output(), out.User)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().BoolVar(&remember, "remember", true, "ask for a long-lived session")
	return cmd
}

func newRegisterCommand(c *cli) *cobra.Command {
	var req client.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Username == "" || req.Email == "" {
				return errors.New("--username and --email are required")
			}
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Password = pw

			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			out, err := cl.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), c.output(), out.User)
		},
	}
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "email")
	return cmd
}

func newLogoutCommand(c *cli) *cobra.Command {
	var everywhere bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget local credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()
			if err := cl.Logout(cmd.Context(), everywhere); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&everywhere, "all", false, "end every session of the account")
	return cmd
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintf(tw, "server:\t%s\n", cl.BaseURL())
			fmt.Fprintf(tw, "profile:\t%s\n", cl.Config().Profile)

			if !cl.Active(cmd.Context()) {
				fmt.Fprintf(tw, "session:\tsigned out\n")
				return nil
			}
			me, err := cl.Me(cmd.Context())
			switch {
			case errors.Is(err, renewal.ErrRenewalFailed):
				fmt.Fprintf(tw, "session:\texpired\n")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(tw, "session:\tactive\n")
			name := me.ID
			if me.Username != nil {
				name = *me.Username
			}
			fmt.Fprintf(tw, "user:\t%s (%s)\n", name, me.ID)
			if !me.CreatedAt.IsZero() {
				fmt.Fprintf(tw, "member since:\t%s\n", humanize.RelTime(me.CreatedAt, time.Now(), "ago", "from now"))
			}
			if n := cl.Coordinator().Snapshot().Episode; n > 0 {
				fmt.Fprintf(tw, "renewals:\t%s\n", humanize.Comma(int64(n)))
			}
			return nil
		},
	}
}
