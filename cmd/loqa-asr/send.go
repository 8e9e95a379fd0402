package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

var sendCmd = &cobra.Command{
	Use:   "send <file.wav>",
	Short: "Stream a WAV file to a running loqa-asrd as one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		site, _ := cmd.Flags().GetString("site")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		sessionID := uuid.NewString()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		format := audio.Format{SampleRate: cfg.ASR.SampleRate, SampleWidth: cfg.ASR.SampleWidth, Channels: cfg.ASR.Channels}
		pcm, err := audio.Normalize(protocol.AudioPayload{WAV: data}, format)
		if err != nil {
			return err
		}

		client, err := bus.Connect(cmd.Context(), cfg.Bus, "loqa-asr-cli", logger)
		if err != nil {
			return err
		}
		defer client.Close()

		results := make(chan *nats.Msg, 8)
		sub, err := client.Conn().ChanSubscribe(protocol.SubjectTextCaptured, results)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		key := protocol.NamedSession(sessionID)
		if err := client.PublishJSON(protocol.SubjectStartListening, protocol.StartListening{
			SiteID:    site,
			SessionID: key,
		}); err != nil {
			return err
		}
		subject := protocol.SubjectAudioFramePrefix + "." + site
		for i, chunk := range splitChunks(pcm, format.SampleRate*format.SampleWidth*format.Channels/10) {
			packet := protocol.AudioFramePacket{
				SiteID:       site,
				SessionID:    key.Ptr(),
				Sequence:     i,
				AudioPayload: protocol.AudioPayload{PCM: chunk, SampleRate: format.SampleRate, SampleWidth: format.SampleWidth, Channels: format.Channels},
			}
			if err := client.PublishJSON(subject, packet); err != nil {
				return err
			}
		}
		if err := client.PublishJSON(protocol.SubjectStopListening, protocol.StopListening{SiteID: site, SessionID: key}); err != nil {
			return err
		}
		log.Debug("audio sent", "session_id", sessionID, "bytes", len(pcm))

		deadline := time.After(timeout)
		for {
			select {
			case msg := <-results:
				var text protocol.TextCaptured
				if err := json.Unmarshal(msg.Data, &text); err != nil {
					return err
				}
				if id, _ := text.SessionID.ID(); id != sessionID {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), text.Text)
				return nil
			case <-deadline:
				return fmt.Errorf("no transcript for session %s within %s", sessionID, timeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	},
}

func init() {
	sendCmd.Flags().String("site", "default", "Site id to send audio as")
	sendCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the transcript")
}
