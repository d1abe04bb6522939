package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/academiaparchada/ms-go-reconciler/app/outcome"
)

var (
	watchPage       string
	watchPurchaseID string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile a single purchase in the foreground",
	Long:  "Open one outcome page session, poll until it settles, and print the resulting display state.",
	Run:   runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchPage, "page", outcome.PageSuccess, "Entry page: success, pending, or failure")
	watchCmd.Flags().StringVar(&watchPurchaseID, "purchase-id", "", "Purchase id to reconcile")
}

func runWatch(_ *cobra.Command, _ []string) {
	_, sessionManager, _, cleanup := mustCreateSessionManager()
	defer cleanup()
	defer sessionManager.Shutdown()

	sessionID, state, err := sessionManager.Open(watchPage, watchPurchaseID)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open session")
	}
	logState(sessionID, state)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastPhase := state.Phase
	for {
		select {
		case <-quit:
			logrus.WithField("session_id", sessionID).Info("Watch interrupted")
			_ = sessionManager.Close(sessionID)
			return
		case <-ticker.C:
		}

		state, err = sessionManager.Get(sessionID)
		if err != nil {
			logrus.WithError(err).Fatal("Session lookup failed")
		}
		if state.Phase != lastPhase {
			lastPhase = state.Phase
			logState(sessionID, state)
		}

		switch state.Phase {
		case outcome.PhaseCompleted, outcome.PhaseFailed, outcome.PhaseExhausted, outcome.PhaseInputError:
			_ = sessionManager.Close(sessionID)
			return
		}
	}
}

func logState(sessionID string, state outcome.DisplayState) {
	entry := logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"page":       state.Page,
		"phase":      state.Phase,
		"attempts":   state.AttemptsUsed,
	})
	if state.Redirect != nil {
		entry = entry.WithField("redirect", state.Redirect.Path)
	}
	if state.RetryPath != "" {
		entry = entry.WithField("retry_path", state.RetryPath)
	}
	entry.Info(state.Message)
}
