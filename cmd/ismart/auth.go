package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ismart-scholar/workbench/internal/models"
)

// readSecret takes a value from the flag, or one line from stdin.
func readSecret(cmd *cobra.Command, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and cache your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			pw, err := readSecret(cmd, password, "Password: ")
			if err != nil {
				return err
			}

			user, err := a.client.Login(cmd.Context(), email, pw)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := a.session.SetUser(user); err != nil {
				return err
			}

			projects, err := a.client.ListProjects(cmd.Context(), user.UserID)
			if err != nil {
				a.logger.WithError(err).Warn("could not load projects after login")
			} else if err := a.session.SetProjects(projects); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Signed in as %s (%d projects)\n", displayUser(user), len(projects))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var req models.SignupRequest
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Name == "" || req.Email == "" {
				return errors.New("--name and --email are required")
			}
			pw, err := readSecret(cmd, req.Password, "Password: ")
			if err != nil {
				return err
			}
			req.Password = pw
			if err := a.client.Signup(cmd.Context(), req); err != nil {
				return fmt.Errorf("signup failed: %w", err)
			}
			fmt.Fprintln(a.out, "Account created. Run `ismart login` to sign in.")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "full name")
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&req.Affiliation, "affiliation", "", "institution")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in user, projects and selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and selected project",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "User:    %s (id %d)\n", displayUser(user), user.UserID)
			if p, ok := a.session.SelectedProject(); ok {
				fmt.Fprintf(a.out, "Project: %s (id %d)\n", p.ProjectName, p.ProjectID)
			} else {
				fmt.Fprintln(a.out, "Project: none selected")
			}
			fmt.Fprintf(a.out, "Backend: %s\n", a.client.BaseURL())
			return nil
		},
	}
}

func displayUser(u models.User) string {
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case u.Email != "":
		return u.Email
	case u.Name != "":
		return u.Name
	default:
		return fmt.Sprintf("user %d", u.UserID)
	}
}
