package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/site-attendance/attendance"
	"github.com/jrsteele09/site-attendance/internal/config"
	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/location"
	"github.com/jrsteele09/site-attendance/session"
	"github.com/jrsteele09/site-attendance/workers"
	"github.com/spf13/cobra"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "attendance",
		Short: "Construction site attendance client",
		Long:  "attendance checks workers in and out of construction sites by QR code against the attendance backend.",
		Run: func(cmd *cobra.Command, args []string) {
			displayAppname(cfg.GetAppName())
			_ = cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newLoginCmd(cfg),
		newRestoreCmd(cfg),
		newCheckInCmd(cfg),
		newCheckOutCmd(cfg),
		newStatusCmd(cfg),
		newSyncCmd(cfg),
		newProfileCmd(cfg),
		newLogoutCmd(cfg),
	)
	return rootCmd
}

// withApp wires a client for one command and flushes error reports afterwards.
func withApp(cmd *cobra.Command, cfg config.Config, gate attendance.Locator, resume bool, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cfg, cmd.OutOrStdout(), gate)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if resume {
		if err := a.resume(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

func newLoginCmd(cfg config.Config) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readLine(cmd.InOrStdin(), cmd.OutOrStdout(), "비밀번호: ")
				if err != nil {
					return err
				}
				password = p
			}
			return withApp(cmd, cfg, nil, false, func(ctx context.Context, a *app) error {
				if err := a.session.Login(ctx, session.Credentials{Username: username, Password: password}); err != nil {
					return err
				}
				displayAppname(cfg.GetAppName())
				status := a.session.Status()
				fmt.Fprintf(cmd.OutOrStdout(), "로그인되었습니다: %s (%s)\n", status.WorkerName, status.WorkerID)
				if _, err := a.engine.Sync(ctx); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "오늘 출근 기록을 불러오지 못했습니다: %s\n", message(err))
				}
				return printStatus(cmd.OutOrStdout(), a)
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Worker login id")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newRestoreCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the persisted session and show today's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, true, func(ctx context.Context, a *app) error {
				status := a.session.Status()
				fmt.Fprintf(cmd.OutOrStdout(), "세션이 복원되었습니다: %s (만료 %s)\n", status.WorkerID, status.ExpiresAt.Format(time.RFC3339))
				return printStatus(cmd.OutOrStdout(), a)
			})
		},
	}
}

type positionFlags struct {
	lat, lng, accuracy float64
}

func (p *positionFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&p.lat, "lat", 0, "Latitude of the device")
	cmd.Flags().Float64Var(&p.lng, "lng", 0, "Longitude of the device")
	cmd.Flags().Float64Var(&p.accuracy, "accuracy", 0, "Position accuracy in meters")
	cmd.MarkFlagsRequiredTogether("lat", "lng")
}

func (p *positionFlags) set(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng")
}

func (p *positionFlags) position(cmd *cobra.Command) *location.Position {
	if !p.set(cmd) {
		return nil
	}
	return &location.Position{Latitude: p.lat, Longitude: p.lng, Accuracy: p.accuracy, Timestamp: time.Now()}
}

func newCheckInCmd(cfg config.Config) *cobra.Command {
	var qrRaw string
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check in with a scanned site QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate := newGate(cfg, pos.lat, pos.lng, pos.accuracy, pos.set(cmd))
			return withApp(cmd, cfg, gate, true, func(ctx context.Context, a *app) error {
				res, err := a.engine.CheckInWithGate(ctx, qrRaw)
				if err != nil {
					return fmt.Errorf("출근 실패: %s", message(err))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "출근 완료: %s\n", res.SiteName)
				if res.SiteAddress != "" {
					fmt.Fprintf(out, "주소: %s\n", res.SiteAddress)
				}
				fmt.Fprintf(out, "시각: %s\n", res.ServerTimestamp.In(cfg.GetSiteTimeZone()).Format("2006-01-02 15:04:05"))
				if profile, err := a.profiles.Cached(); err == nil && !profile.AssignedTo(res.Record.SiteID) {
					fmt.Fprintln(out, "주의: 배정된 현장 목록에 없는 현장입니다.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&qrRaw, "qr", "", "Scanned QR payload (version|siteId|epochMillis)")
	_ = cmd.MarkFlagRequired("qr")
	pos.register(cmd)
	return cmd
}

func newCheckOutCmd(cfg config.Config) *cobra.Command {
	var qrRaw string
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out of the open shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, true, func(ctx context.Context, a *app) error {
				res, err := a.engine.CheckOut(ctx, attendance.CheckOutParams{Position: pos.position(cmd), QR: qrRaw})
				if err != nil {
					return fmt.Errorf("퇴근 실패: %s", message(err))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "퇴근 완료: %s\n", res.Record.SiteName)
				suffix := ""
				if res.Estimated {
					suffix = " (추정)"
				}
				fmt.Fprintf(out, "근무 시간: %.1f시간%s\n", res.WorkHours, suffix)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&qrRaw, "qr", "", "Optional exit scan of the site QR code")
	pos.register(cmd)
	return cmd
}

func newStatusCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's attendance status from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, true, func(ctx context.Context, a *app) error {
				return printStatus(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newSyncCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replace today's local records with the server's",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, true, func(ctx context.Context, a *app) error {
				if _, err := a.engine.Sync(ctx); err != nil {
					return fmt.Errorf("동기화 실패: %s", message(err))
				}
				return printStatus(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newProfileCmd(cfg config.Config) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the worker profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, true, func(ctx context.Context, a *app) error {
				fetch := a.profiles.Fetch
				if cached {
					fetch = func(context.Context) (*workers.Profile, error) { return a.profiles.Cached() }
				}
				profile, err := fetch(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "이름: %s\n", profile.DisplayName())
				fmt.Fprintf(out, "작업자 ID: %s\n", profile.WorkerID)
				if profile.CompanyName != "" {
					fmt.Fprintf(out, "소속: %s\n", profile.CompanyName)
				}
				if profile.JobType != "" {
					fmt.Fprintf(out, "직종: %s\n", profile.JobType)
				}
				if len(profile.SiteIDs) > 0 {
					fmt.Fprintf(out, "배정 현장: %s\n", strings.Join(profile.SiteIDs, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "Show the cached profile instead of fetching it")
	return cmd
}

func newLogoutCmd(cfg config.Config) *cobra.Command {
	var clearCache bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, nil, false, func(ctx context.Context, a *app) error {
				a.session.Logout(ctx)
				if err := a.engine.Reset(clearCache); err != nil {
					return err
				}
				if clearCache {
					if err := a.profiles.Clear(); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "로그아웃되었습니다.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearCache, "clear", false, "Also remove cached attendance records and profiles")
	return cmd
}

func printStatus(out io.Writer, a *app) error {
	summary, err := a.engine.Status()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "상태: %s\n", summary.Status)
	if open := summary.CurrentOpen; open != nil {
		fmt.Fprintf(out, "현장: %s (출근 %s)\n", open.SiteName, open.CheckIn().In(a.cfg.GetSiteTimeZone()).Format("15:04"))
	}
	if summary.CompletedCount > 0 {
		fmt.Fprintf(out, "완료된 근무: %d건, %.1f시간\n", summary.CompletedCount, summary.TotalWorkHours())
	}
	return nil
}

// message returns the user facing text of an engine failure.
func message(err error) string {
	var wfErr *attendance.WorkflowError
	if appErrors.As(err, &wfErr) && wfErr.Message != "" {
		return wfErr.Message
	}
	return err.Error()
}

func readLine(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
