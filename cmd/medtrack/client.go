package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medtrack/internal/config"
	"github.com/ehr/medtrack/internal/domain/adherence"
	"github.com/ehr/medtrack/internal/platform/apiclient"
	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/session"
)

// cliEnv is what every client command needs: config, the persisted session
// and a records API client whose 401s log the user out.
type cliEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  session.Store
	client *apiclient.Client
	out    io.Writer
	asJSON bool
}

func newCLIEnv(cmd *cobra.Command) (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Env, cfg.LogLevel)

	path := cfg.SessionFile
	if path == "" {
		path = session.DefaultPath()
	}
	store := session.NewFileStore(path)

	client := apiclient.New(cfg.APIBaseURL, cfg.APITimeout,
		apiclient.WithLogger(logger),
		apiclient.WithUnauthorizedHook(func() {
			if err := store.Clear(); err != nil {
				logger.Error().Err(err).Msg("failed to clear rejected session")
				return
			}
			logger.Warn().Msg("session rejected by records API, logged out")
		}),
	)

	asJSON, _ := cmd.Flags().GetBool("json")
	return &cliEnv{
		cfg:    cfg,
		logger: logger,
		store:  store,
		client: client,
		out:    cmd.OutOrStdout(),
		asJSON: asJSON,
	}, nil
}

// authed returns ctx carrying the persisted session's token. An expired
// session is cleared.
func (e *cliEnv) authed(ctx context.Context) (context.Context, *session.Session, error) {
	const op = "load session"
	sess, err := e.store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil, nil, adherence.NewError(adherence.KindAuth, op, "not logged in", nil)
	}
	if err != nil {
		return nil, nil, err
	}
	if !sess.Valid(time.Now()) {
		if err := e.store.Clear(); err != nil {
			e.logger.Error().Err(err).Msg("failed to clear expired session")
		}
		return nil, nil, adherence.NewError(adherence.KindAuth, op, "session expired", nil)
	}
	return auth.WithBearer(ctx, sess.Token), sess, nil
}

func (e *cliEnv) service() (*adherence.Service, error) {
	svc, err := newService(e.cfg, apiclient.NewRESTRepository(e.client))
	if err != nil {
		return nil, err
	}
	svc.SetLogger(e.logger)
	return svc, nil
}

// withService runs fn with an authenticated context and a service over the
// records API.
func withService(cmd *cobra.Command, fn func(ctx context.Context, env *cliEnv, sess *session.Session, svc *adherence.Service) error) error {
	env, err := newCLIEnv(cmd)
	if err != nil {
		return err
	}
	ctx, sess, err := env.authed(cmd.Context())
	if err != nil {
		return err
	}
	svc, err := env.service()
	if err != nil {
		return err
	}
	return fn(ctx, env, sess, svc)
}

func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the records API and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCLIEnv(cmd)
			if err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("MEDTRACK_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			sess, err := env.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := env.store.Save(sess); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			if env.asJSON {
				return printJSON(env.out, sess.User)
			}
			fmt.Fprintf(env.out, "Logged in as %s (%s)\n", displayName(sess.User), sess.User.Role)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (prompted when omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCLIEnv(cmd)
			if err != nil {
				return err
			}
			if err := env.store.Clear(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(env.out, "Logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCLIEnv(cmd)
			if err != nil {
				return err
			}
			_, sess, err := env.authed(cmd.Context())
			if err != nil {
				return err
			}
			if env.asJSON {
				return printJSON(env.out, sess.User)
			}
			fmt.Fprintf(env.out, "%s <%s> role=%s\n", displayName(sess.User), sess.User.Email, sess.User.Role)
			if !sess.ExpiresAt.IsZero() {
				fmt.Fprintf(env.out, "Session expires %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func displayName(u session.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func prescriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prescriptions",
		Short: "List prescriptions with the doses that can be marked now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, env *cliEnv, _ *session.Session, svc *adherence.Service) error {
				v, err := svc.ListView(ctx)
				if err != nil {
					return err
				}
				if env.asJSON {
					return printJSON(env.out, v)
				}
				return printView(env.out, v)
			})
		},
	}
}

func dayFlag(cmd *cobra.Command) (adherence.DayKey, error) {
	s, _ := cmd.Flags().GetString("day")
	if s == "" {
		return "", nil
	}
	return adherence.ParseDayKey(s)
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show calendar markers and the prescriptions of one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := dayFlag(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, env *cliEnv, _ *session.Session, svc *adherence.Service) error {
				cv, err := svc.CalendarView(ctx, day)
				if err != nil {
					return err
				}
				if env.asJSON {
					return printJSON(env.out, cv)
				}
				return printCalendar(env.out, cv)
			})
		},
	}
	cmd.Flags().String("day", "", "Day to select, YYYY-MM-DD (default today)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show each medication's doses for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := dayFlag(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, env *cliEnv, _ *session.Session, svc *adherence.Service) error {
				if day == "" {
					day = svc.Today()
				}
				entries, err := svc.Schedule(ctx, day)
				if err != nil {
					return err
				}
				loc, _ := env.cfg.Location()
				if env.asJSON {
					return printJSON(env.out, map[string]interface{}{"day": day, "items": entries})
				}
				return printSchedule(env.out, day, entries, loc)
			})
		},
	}
	cmd.Flags().String("day", "", "Day, YYYY-MM-DD (default today)")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show medication compliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			upstream, _ := cmd.Flags().GetBool("upstream")
			return withService(cmd, func(ctx context.Context, env *cliEnv, _ *session.Session, svc *adherence.Service) error {
				var (
					st  *adherence.ComplianceStats
					err error
				)
				if upstream {
					st, err = svc.ServerStats(ctx)
				} else {
					st, err = svc.Stats(ctx)
				}
				if err != nil {
					return err
				}
				if env.asJSON {
					return printJSON(env.out, st)
				}
				return printStats(env.out, st)
			})
		},
	}
	cmd.Flags().Bool("upstream", false, "Use the stats computed by the records API")
	return cmd
}

func markTakenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-taken ITEM_ID",
		Short: "Mark a prescription item as taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, env *cliEnv, sess *session.Session, svc *adherence.Service) error {
				if auth.IsDoctor([]string{sess.User.Role}) {
					return adherence.NewError(adherence.KindAuth, "mark taken", "doctors cannot mark doses", nil)
				}
				out, err := svc.MarkTaken(ctx, args[0])
				if out == nil {
					return err
				}
				if env.asJSON {
					if perr := printJSON(env.out, out); perr != nil {
						return perr
					}
				} else {
					printMarkResult(env.out, out.Result)
				}
				if err != nil {
					env.logger.Warn().Err(err).Msg("mark recorded but refresh failed")
				}
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history DNI",
		Short: "Show a patient's prescription history (doctors only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, env *cliEnv, sess *session.Session, svc *adherence.Service) error {
				if !auth.HasRole([]string{sess.User.Role}, auth.DoctorRoles...) {
					return adherence.NewError(adherence.KindAuth, "search patient", "patient history is only available to doctors", nil)
				}
				h, err := svc.SearchByPatient(ctx, args[0])
				if err != nil {
					return err
				}
				if env.asJSON {
					return printJSON(env.out, h)
				}
				return printHistory(env.out, h)
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the records API is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newCLIEnv(cmd)
			if err != nil {
				return err
			}
			body, err := env.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if env.asJSON {
				_, err := fmt.Fprintln(env.out, string(body))
				return err
			}
			fmt.Fprintf(env.out, "records API at %s is up\n", env.client.BaseURL())
			return nil
		},
	}
}
