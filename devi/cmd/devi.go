// Command devi is the terminal chat client: it buffers what you type, sends it to
// the model endpoint in batches and reveals Devi's replies one by one.
package main

import (
	"bufio"
	"context"
	"devi/devi/config"
	"devi/devi/dispatch"
	"devi/devi/services/inference"
	"devi/devi/sources/local"
	"devi/devi/utils/color"
	"devi/devi/utils/logging"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(config.LoadConfig()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "devi",
		Short:        "Chat with Devi, your astrologer",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitLoggerAt(cfg.LogDir)
			color.DisableColorIfNotTTY()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}
	root.PersistentFlags().StringVar(&cfg.LocalStorePath, "store", cfg.LocalStorePath, "local store directory")

	var verbose bool
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), verbose)
		},
	}
	chat.Flags().StringVar(&cfg.ModelURL, "url", cfg.ModelURL, "model endpoint")
	chat.Flags().BoolVarP(&verbose, "verbose", "v", false, "show delivery status")

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Print the persisted user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := local.Open(cfg.LocalStorePath)
			if err != nil {
				return err
			}
			defer store.Close()
			id, err := store.UserID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget the local chat history",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := local.Open(cfg.LocalStorePath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.ColorInfo("history cleared"))
			return nil
		},
	}

	root.AddCommand(chat, whoami, reset)
	return root
}

func runChat(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := local.Open(cfg.LocalStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	view := newTerminalView(out, verbose)
	buf := dispatch.NewBuffer(
		inference.NewClient(cfg.ModelURL, cfg.RequestTimeout),
		store,
		store,
		view,
		dispatch.Options{
			DebounceWindow: cfg.DebounceWindow,
			PreSendDelay:   cfg.PreSendDelay,
			RevealMin:      cfg.RevealMin,
			RevealMax:      cfg.RevealMax,
		},
	)
	defer buf.Close()

	restored, err := buf.Restore(ctx)
	if err != nil {
		logging.ErrorLogger.Error("restore failed", zap.Error(err))
	}
	for _, msg := range restored {
		printRestored(out, msg)
	}

	fmt.Fprintln(out, color.ColorDevi("Devi is here. Tell her what is on your mind."))
	fmt.Fprintln(out, color.ColorStatus("/retry resends unsent messages, /reset clears the chat, exit quits"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, color.ColorPrompt("you> "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "exit", "quit":
			fmt.Fprintln(out, color.ColorDevi("Until the next moonrise."))
			return nil
		case "/retry":
			switch err := buf.Flush(); {
			case errors.Is(err, dispatch.ErrNothingToSend):
				view.Info("nothing waiting to be sent")
			case err != nil:
				return err
			}
			continue
		case "/reset":
			if err := buf.Reset(ctx); err != nil {
				fmt.Fprintln(out, color.ColorError(err.Error()))
				continue
			}
			view.Info("chat cleared")
			continue
		case "/status":
			view.Info("%s, %d pending", buf.State(), len(buf.Pending()))
			continue
		}

		if _, err := buf.Submit(line); err != nil {
			if errors.Is(err, dispatch.ErrBlankMessage) {
				continue
			}
			return err
		}
	}
}

func printRestored(out io.Writer, msg dispatch.Message) {
	if msg.IsUser {
		fmt.Fprintf(out, "%s %s %s\n", color.ColorPrompt("you>"), msg.Text, color.ColorStatus(msg.Timestamp))
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", color.ColorDevi("devi>"), color.ColorDevi(msg.Text), color.ColorStatus(msg.Timestamp))
}
