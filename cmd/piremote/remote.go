package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcuoli/go-piremote/pkg/piremote/session"
)

type sshFlags struct {
	host     string
	port     int
	user     string
	password string
}

func (f *sshFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "board address (default ssh.host from config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port (default ssh.port from config)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "login name (default ssh.username from config)")
	cmd.Flags().StringVarP(&f.password, "password", "P", "", "password; prompted for when empty")
}

// credentials merges the flags over the configured login and prompts for a
// missing password when stdin is a terminal.
func (f *sshFlags) credentials() (session.Credentials, error) {
	creds := cfg.SSH.Credentials()
	if f.host != "" {
		creds.Host = f.host
	}
	if f.port != 0 {
		creds.Port = f.port
	}
	if f.user != "" {
		creds.Username = f.user
	}
	if f.password != "" {
		creds.Password = f.password
	}
	if creds.Host == "" {
		return creds, errors.New("no host given (use --host or ssh.host)")
	}
	if creds.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "%s@%s's password: ", creds.Username, creds.Host)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return creds, fmt.Errorf("read password: %w", err)
		}
		creds.Password = string(pw)
	}
	return creds, nil
}

func connect(ctx context.Context, f *sshFlags) (*session.Manager, error) {
	creds, err := f.credentials()
	if err != nil {
		return nil, err
	}
	m := session.NewManager(cfg.SSH.ManagerOptions())
	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + creds.Addr())
	ok := m.ConnectWith(ctx, creds)
	if spinner != nil {
		if ok {
			spinner.Success("Connected to " + creds.Addr())
		} else {
			spinner.Fail("Could not connect to " + creds.Addr())
		}
	}
	if !ok {
		cause := m.LastError()
		log.WithError(cause).WithField("host", creds.Addr()).Warn("connect failed")
		if cause == nil {
			return nil, fmt.Errorf("connect %s@%s: %w", creds.Username, creds.Addr(), session.ErrNotConnected)
		}
		return nil, fmt.Errorf("connect %s@%s: %w: %w", creds.Username, creds.Addr(), session.ErrNotConnected, cause)
	}
	return m, nil
}

func newExecCmd() *cobra.Command {
	var f sshFlags
	var raw bool
	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Run a command on a board",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := connect(cmd.Context(), &f)
			if err != nil {
				return err
			}
			defer m.Close()

			command := strings.Join(args, " ")
			if raw {
				fmt.Fprint(cmd.OutOrStdout(), m.Execute(cmd.Context(), command))
				return nil
			}

			res := m.Run(cmd.Context(), command)
			log.WithField("command", command).
				WithField("outcome", res.Outcome.String()).
				WithField("exit_status", res.ExitStatus).
				WithField("duration", res.Duration).
				Debug("command finished")
			fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)

			switch {
			case res.Outcome == session.OutcomeTimedOut:
				return fmt.Errorf("%s: %w", command, res.Err)
			case res.Err != nil:
				return res.Err
			case res.ExitStatus != 0:
				return fmt.Errorf("%s: exit status %d", command, res.ExitStatus)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&raw, "raw", false, "print combined output only, never fail")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var f sshFlags
	cmd := &cobra.Command{
		Use:   "upload [flags] LOCAL [REMOTE]",
		Short: "Copy a file to a board",
		Long: `Copy LOCAL to REMOTE over SFTP, retrying with a fresh connection on
failure. Without REMOTE, images go to ` + session.DefaultImagePath + ` and audio to
` + session.DefaultAudioPath + `.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := args[0]
			remote := ""
			if len(args) == 2 {
				remote = args[1]
			} else if remote = defaultRemotePath(local); remote == "" {
				return fmt.Errorf("no default destination for %s, give REMOTE", filepath.Base(local))
			}

			m, err := connect(cmd.Context(), &f)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Upload(cmd.Context(), local, remote); err != nil {
				if cause := m.LastError(); cause != nil {
					log.WithError(cause).WithField("host", m.Host()).Warn("reconnect failed during upload")
				}
				return err
			}
			pterm.Success.Printfln("Uploaded %s to %s:%s", local, m.Host(), remote)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// defaultRemotePath picks the well-known destination for media files.
func defaultRemotePath(local string) string {
	switch strings.ToLower(filepath.Ext(local)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		return session.DefaultImagePath
	case ".wav", ".mp3", ".ogg", ".flac":
		return session.DefaultAudioPath
	}
	return ""
}
