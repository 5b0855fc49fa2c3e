package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/atinyakov/credvault/internal/client"
	"github.com/atinyakov/credvault/internal/crypto"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:4000"

// app holds the state shared by all subcommands.
type app struct {
	in  io.Reader
	out io.Writer

	server      string
	caFile      string
	profilePath string

	tokens   client.TokenStore
	prompter *client.Prompter
	profile  *client.Profile
	api      *client.API
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:          "credvault",
		Short:        "Command-line client for the credential vault",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&a.server, "server", "", "server base URL (default: last used, or "+defaultServer+")")
	root.PersistentFlags().StringVar(&a.caFile, "ca", "", "path to a CA certificate used to verify the server")
	root.PersistentFlags().StringVar(&a.profilePath, "profile", "", "path to the profile file")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.listCmd(),
		a.addCmd(),
		a.editCmd(),
		a.revealCmd(),
		a.deleteCmd(),
		keygenCmd(),
	)
	return root
}

func (a *app) setup() error {
	if a.profilePath == "" {
		path, err := client.DefaultProfilePath()
		if err != nil {
			return err
		}
		a.profilePath = path
	}
	profile, err := client.LoadProfile(a.profilePath)
	if err != nil {
		return err
	}
	a.profile = profile
	a.server = firstNonEmpty(a.server, profile.Server, defaultServer)

	httpClient, err := client.NewHTTPClient(a.caFile)
	if err != nil {
		return err
	}
	a.api = client.NewAPI(a.server, httpClient)
	a.prompter = client.NewPrompter(a.in, a.out)
	return nil
}

// authenticate loads the stored token for the current server.
func (a *app) authenticate() error {
	token, err := a.tokens.Load(a.server)
	if err != nil {
		return err
	}
	a.api.Token = token
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (a *app) askIfEmpty(v *string, question string) error {
	if *v != "" {
		return nil
	}
	answer, err := a.prompter.Ask(question)
	if err != nil {
		return err
	}
	*v = answer
	return nil
}

func (a *app) registerCmd() *cobra.Command {
	var username, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.askIfEmpty(&username, "Username: "); err != nil {
				return err
			}
			if err := a.askIfEmpty(&email, "Email: "); err != nil {
				return err
			}
			password, err := a.prompter.Ask("Password: ")
			if err != nil {
				return err
			}

			u, err := a.api.Register(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s <%s>. Run `login` to start a session.\n", u.Username, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = firstNonEmpty(email, a.profile.Email)
			if err := a.askIfEmpty(&email, "Email: "); err != nil {
				return err
			}
			password, err := a.prompter.Ask("Password: ")
			if err != nil {
				return err
			}

			u, err := a.api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.tokens.Save(a.server, a.api.Token); err != nil {
				return err
			}

			a.profile.Server = a.server
			a.profile.Email = u.Email
			a.profile.Username = u.Username
			if err := a.profile.Save(a.profilePath); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", u.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.tokens.Delete(a.server); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.authenticate(); err != nil {
				return err
			}
			list, err := a.api.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "No credentials stored")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACCOUNT\tUSERNAME\tUPDATED")
			for _, c := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.AccountName, c.AccountUsername, c.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add",
		Short: "Store a new credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.authenticate(); err != nil {
				return err
			}
			fields, err := a.prompter.PromptNewCredential()
			if err != nil {
				return err
			}
			c, err := a.api.Create(cmd.Context(), fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Stored %s (%s)\n", c.AccountName, c.ID)
			return nil
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.authenticate(); err != nil {
				return err
			}
			fields, err := a.prompter.PromptEditCredential()
			if err != nil {
				return err
			}
			c, err := a.api.Update(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %s (%s)\n", c.AccountName, c.ID)
			return nil
		},
	}
}

func (a *app) revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <id>",
		Short: "Print the plaintext password of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.authenticate(); err != nil {
				return err
			}
			plain, err := a.api.Reveal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, plain)
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.authenticate(); err != nil {
				return err
			}
			if err := a.api.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Credential deleted")
			return nil
		},
	}
}

// keygenCmd prints a fresh AES-256 key for AES_SECRET_KEY.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random 64-hex-character AES-256 key",
		Args:  cobra.NoArgs,
		// keygen works offline.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKeyHex()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
