package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/versatilecz/evac/config"
	"github.com/versatilecz/evac/internal/app"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/version"
)

// defaultAdvertisement is a button beacon frame with battery level 86
const defaultAdvertisement = "0201060a16d2fc4400cb01563a00"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "evac-cli",
		Short:         "Maintenance tool for the evac server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv("EVAC_SERVER_CONFIG", configPath)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "server config file")

	root.AddCommand(
		newVersionCmd(),
		newNotifyCmd(),
		newDevicePositionCmd(),
		newHelloCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func loadConfig() (*config.Config, *models.Data, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, err := store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfg, data, nil
}

func newNotifyCmd() *cobra.Command {
	var (
		contact string
		subject string
		text    string
	)
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification to a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(contact)
			if err != nil {
				return fmt.Errorf("invalid contact: %w", err)
			}
			cfg, data, err := loadConfig()
			if err != nil {
				return err
			}
			c, ok := data.Contacts[id]
			if !ok {
				return fmt.Errorf("contact %s not found", id)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), notify.SendTimeout)
			defer cancel()
			msg := notify.Message{Subject: subject, Short: text, Long: text}
			if err := app.Notifiers(cfg).Notify(ctx, c, msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent to %s\n", c.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&contact, "contact", "u", "", "contact uuid")
	cmd.Flags().StringVarP(&subject, "subject", "s", "Subject", "notification subject")
	cmd.Flags().StringVarP(&text, "text", "t", "Text", "notification text")
	cmd.MarkFlagRequired("contact")
	return cmd
}

func newDevicePositionCmd() *cobra.Command {
	var (
		device  string
		scanner string
		payload string
		rssi    int
	)
	cmd := &cobra.Command{
		Use:   "device-position",
		Short: "Pretend a scanner saw a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := uuid.Parse(device)
			if err != nil {
				return fmt.Errorf("invalid device: %w", err)
			}
			scannerID, err := uuid.Parse(scanner)
			if err != nil {
				return fmt.Errorf("invalid scanner: %w", err)
			}
			raw, err := hex.DecodeString(payload)
			if err != nil {
				return fmt.Errorf("invalid advertisement: %w", err)
			}

			cfg, data, err := loadConfig()
			if err != nil {
				return err
			}
			s, ok := data.Scanners[scannerID]
			if !ok {
				return fmt.Errorf("scanner %s not found", scannerID)
			}
			d, ok := data.Devices[deviceID]
			if !ok {
				return fmt.Errorf("device %s not found", deviceID)
			}
			if rssi == 0 {
				rssi = -30 - rand.IntN(60)
			}

			return send(app.Dialable(cfg.ScannerAddr()),
				protocol.NewMessage(protocol.Register{Mac: s.Mac}),
				protocol.NewMessage(protocol.ScanResult{Mac: d.Mac, RSSI: int32(rssi), Data: raw}),
			)
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "device uuid")
	cmd.Flags().StringVarP(&scanner, "scanner", "s", "", "scanner uuid")
	cmd.Flags().StringVarP(&payload, "msg", "m", defaultAdvertisement, "advertisement data as hex")
	cmd.Flags().IntVarP(&rssi, "rssi", "r", 0, "signal strength, random when zero")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("scanner")
	return cmd
}

func newHelloCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Broadcast a discovery beacon so scanners register",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			return send(cfg.BroadcastAddr(), protocol.NewMessage(protocol.Hello{}))
		},
	}
}

func send(to netip.AddrPort, msgs ...protocol.Message) error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, m := range msgs {
		packet, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		if _, err := conn.WriteToUDPAddrPort(packet, to); err != nil {
			return fmt.Errorf("failed to send to %s: %w", to, err)
		}
		logging.Log.WithField("addr", to).WithField("message", m.String()).Info("Sent")
		// the scan result must arrive after the registration
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
