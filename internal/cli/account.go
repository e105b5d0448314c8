package cli

import (
	"fmt"

	"backend-skitrip/internal/auth"

	"github.com/spf13/cobra"
)

type opener func(*cobra.Command) (*env, error)

func registerCmd(open opener) *cobra.Command {
	var req auth.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the document server and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			tokens, err := e.authClient().Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := e.session.SignIn(cmd.Context(), tokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", tokens.User.DisplayName)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Email, "email", "", "Email address")
	f.StringVar(&req.DisplayName, "name", "", "Name shown to the group")
	f.StringVar(&req.Password, "password", "", "Password")
	f.StringVar(&req.PhotoURL, "photo", "", "Avatar URL")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd(open opener) *cobra.Command {
	var req auth.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the document server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			tokens, err := e.authClient().Login(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := e.session.SignIn(cmd.Context(), tokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", tokens.User.DisplayName)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in identity on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
