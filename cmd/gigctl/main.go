// Command gigctl is a terminal client for the identity API. It keeps the
// session on disk so consecutive invocations stay signed in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gigmarket/identity/pkg/apiclient"
	"github.com/gigmarket/identity/pkg/logger"
	"github.com/gigmarket/identity/pkg/routeguard"
	"github.com/gigmarket/identity/pkg/session"
)

const usage = `usage: gigctl [flags] <command> [args]

commands:
  signup <full-name> <email> <password> <client|freelancer>
  login <email> <password>
  logout
  whoami
  forgot <email>
  verify <otp> [email]
  resend [email]
  reset <new-password> [token]
  passwd <current> <new>
  open <client|freelancer>   check access to a role dashboard

flags:
`

// routes maps dashboard names to the roles allowed to open them.
var routes = map[string][]string{
	"client":     {"client"},
	"freelancer": {"freelancer"},
}

func main() {
	log := logger.New(logger.Options{Level: "error", Pretty: true, Output: os.Stderr, NoTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsRateLimited() {
			log.Error().Dur("retry_after", apiErr.RetryAfter).Msg(apiErr.Message)
		} else {
			log.Error().Msg(err.Error())
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gigctl", flag.ContinueOnError)
	apiURL := fs.String("api", envOr("GIGCTL_API", "http://localhost:8080"), "identity API base URL")
	home := fs.String("home", envOr("GIGCTL_HOME", defaultHome()), "directory holding the session")
	timeout := fs.Duration("timeout", 15*time.Second, "per-command timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	storage, err := session.NewFileStorage(*home)
	if err != nil {
		return err
	}
	store := session.NewStore(storage)
	if err := store.Hydrate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client := apiclient.New(*apiURL, store)
	return dispatch(ctx, client, fs.Arg(0), fs.Args()[1:], out)
}

func dispatch(ctx context.Context, c *apiclient.Client, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "signup":
		if len(args) != 4 {
			return errors.New("signup needs <full-name> <email> <password> <role>")
		}
		err := c.Signup(ctx, apiclient.SignupRequest{FullName: args[0], Email: args[1], Password: args[2], Role: args[3]})
		return report(out, err, "account created")

	case "login":
		if len(args) != 2 {
			return errors.New("login needs <email> <password>")
		}
		u, err := c.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "signed in as %s (%s)\n", u.Email, u.Role)
		return nil

	case "logout":
		return report(out, c.Logout(), "signed out")

	case "whoami":
		u, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d %s <%s> %s\n", u.ID, u.FullName, u.Email, u.Role)
		return nil

	case "forgot":
		if len(args) != 1 {
			return errors.New("forgot needs <email>")
		}
		return report(out, c.ForgotPassword(ctx, args[0]), "reset code sent")

	case "verify":
		if len(args) < 1 {
			return errors.New("verify needs <otp> [email]")
		}
		return report(out, c.VerifyOTP(ctx, optional(args, 1), args[0]), "code verified")

	case "resend":
		return report(out, c.ResendOTP(ctx, optional(args, 0)), "reset code sent")

	case "reset":
		if len(args) < 1 {
			return errors.New("reset needs <new-password> [token]")
		}
		err := c.ResetPassword(ctx, apiclient.ResetPasswordRequest{NewPassword: args[0], Token: optional(args, 1)})
		return report(out, err, "password has been reset")

	case "passwd":
		if len(args) != 2 {
			return errors.New("passwd needs <current> <new>")
		}
		return report(out, c.ChangePassword(ctx, args[0], args[1], args[1]), "password updated")

	case "open":
		if len(args) != 1 {
			return errors.New("open needs <client|freelancer>")
		}
		return open(c.Session(), args[0], out)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// open runs the route guard for a dashboard and prints where it leads.
func open(store *session.Store, route string, out io.Writer) error {
	roles, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route %q", route)
	}

	nav := routeguard.NavigatorFunc(func(path string) {
		fmt.Fprintf(out, "redirect %s\n", path)
	})
	g := routeguard.New(store, nav, routeguard.DefaultPaths, roles...)
	g.Mount()
	defer g.Unmount()

	g.Render(func() { fmt.Fprintf(out, "open /%s/overview\n", route) })
	return nil
}

func report(out io.Writer, err error, msg string) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(out, msg)
	return nil
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultHome() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gigctl"
	}
	return filepath.Join(dir, "gigctl")
}
