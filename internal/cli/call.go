package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/mediline/consult/internal/call"
	"github.com/mediline/consult/internal/endpoint"
	"github.com/mediline/consult/internal/media"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var callFlags struct {
	server   string
	username string
	password string
	queue    string
	noAudio  bool
	noVideo  bool
	maxWait  time.Duration
	retry    bool
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Queue for a partner and run the consultation until it ends",
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callFlags.server, "server", "http://localhost:8080", "consultation server base URL")
	callCmd.Flags().StringVar(&callFlags.username, "username", "", "login username")
	callCmd.Flags().StringVar(&callFlags.password, "password", "", "login password")
	callCmd.Flags().StringVar(&callFlags.queue, "queue", "", "waiting-room queue (defaults to the server's general queue)")
	callCmd.Flags().BoolVar(&callFlags.noAudio, "no-audio", false, "do not capture the microphone")
	callCmd.Flags().BoolVar(&callFlags.noVideo, "no-video", false, "do not capture the camera")
	callCmd.Flags().DurationVar(&callFlags.maxWait, "max-wait", 5*time.Minute, "give up if no partner is found within this window")
	callCmd.Flags().BoolVar(&callFlags.retry, "retry", false, "re-enter the waiting room after a failed session")
	callCmd.MarkFlagRequired("username")
	callCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	loggerFactory := logging.NewDefaultLoggerFactory()
	devices, err := media.NewDeviceManager(loggerFactory.NewLogger("media"))
	if err != nil {
		return fmt.Errorf("initialize media devices: %w", err)
	}

	opts := call.Options{
		ServerURL: callFlags.server,
		Username:  callFlags.username,
		Password:  callFlags.password,
		Queue:     callFlags.queue,
		MaxWait:   callFlags.maxWait,
		Constraints: media.Constraints{
			Audio: !callFlags.noAudio,
			Video: !callFlags.noVideo,
		},
		LoggerFactory: loggerFactory,
	}

	events := call.Events{
		OnWaiting: func() {
			fmt.Println("Waiting for an available partner...")
		},
		OnLocalStreamReady: func(*media.Handle) {
			fmt.Println("Local media ready")
		},
		OnRemoteStreamReady: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			fmt.Printf("Receiving remote %s\n", track.Kind())
			go drainTrack(track)
		},
		OnConnectionStateChanged: func(s endpoint.State) {
			fmt.Printf("Connection: %s\n", s)
		},
		OnSessionEnded: func(reason endpoint.EndReason) {
			fmt.Printf("Session ended: %s\n", reason)
		},
	}

	client := call.NewClient(opts, devices, events)

	for {
		reason, err := client.Run(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, call.ErrMatchTimedOut):
			fmt.Println("No partner available, try again later")
			return nil
		case callFlags.retry && reason != "":
			// A failed session is not retried in place; a fresh attempt
			// re-enters matchmaking for a new partner.
			fmt.Printf("Call attempt failed (%s), re-entering the waiting room\n", reason)
			continue
		default:
			return err
		}
	}
}

// drainTrack consumes a remote track so RTCP feedback keeps flowing. A real
// UI would decode and render instead.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
