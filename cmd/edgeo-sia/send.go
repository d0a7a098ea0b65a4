package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/sia/sia"
)

var (
	sendAccount     string
	sendKey         string
	sendID          string
	sendCode        string
	sendZone        string
	sendMessage     string
	sendQualifier   string
	sendPartition   string
	sendData        string
	sendReceiver    string
	sendPrefix      string
	sendSequence    int
	sendSkew        time.Duration
	sendNoTimestamp bool
	sendExtended    []string
	sendNetwork     string
	sendCount       int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a DC-09 message as an alarm panel would",
	Long: `Send encodes one DC-09 message, sends it to a receiver and prints the reply.

The content is built from --code, --zone and --message for SIA-DCS, or from
--qualifier, --code, --partition and --zone for ADM-CID. --data overrides
the generated content.

Examples:
  # Burglary alarm, zone 3
  edgeo-sia send -H 127.0.0.1 --account 1234 --code BA --zone 3

  # Contact ID fire alarm, encrypted
  edgeo-sia send -H 127.0.0.1 --account AAA --key 0123456789abcdef --id ADM-CID --code 110 --zone 7

  # Keep-alive over UDP
  edgeo-sia send -H 127.0.0.1 --account 1234 --id NULL --network udp

  # Clock 2 minutes behind, expect a NAK
  edgeo-sia send -H 127.0.0.1 --account 1234 --skew -2m`,

	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendAccount, "account", "a", "", "Account number (hex, 3-16 digits)")
	sendCmd.Flags().StringVarP(&sendKey, "key", "k", "", "AES key; encrypts the content")
	sendCmd.Flags().StringVar(&sendID, "id", sia.IDSIA, "Message token (SIA-DCS, ADM-CID, NULL)")
	sendCmd.Flags().StringVarP(&sendCode, "code", "c", "RP", "Event code (SIA two letters or Contact ID three digits)")
	sendCmd.Flags().StringVarP(&sendZone, "zone", "z", "1", "Zone or user number")
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Text appended to a SIA event code")
	sendCmd.Flags().StringVar(&sendQualifier, "qualifier", "1", "Contact ID qualifier (1 new, 3 restore, 6 status)")
	sendCmd.Flags().StringVar(&sendPartition, "partition", "01", "Contact ID partition")
	sendCmd.Flags().StringVar(&sendData, "data", "", "Raw content, overriding the generated one")
	sendCmd.Flags().StringVar(&sendReceiver, "receiver", "", "Receiver number (hex)")
	sendCmd.Flags().StringVar(&sendPrefix, "prefix", "0", "Account prefix (hex)")
	sendCmd.Flags().IntVar(&sendSequence, "seq", 0, "Sequence number (0 picks the next one)")
	sendCmd.Flags().DurationVar(&sendSkew, "skew", 0, "Offset added to the message timestamp")
	sendCmd.Flags().BoolVar(&sendNoTimestamp, "no-timestamp", false, "Omit the timestamp")
	sendCmd.Flags().StringSliceVarP(&sendExtended, "extended", "x", nil, "Extended data block, e.g. Mtext (repeatable)")
	sendCmd.Flags().StringVarP(&sendNetwork, "network", "n", "tcp", "Network (tcp, udp)")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of messages to send")

	sendCmd.MarkFlagRequired("account")
}

// buildData renders the event content for the selected token
func buildData() (string, error) {
	if sendData != "" {
		return sendData, nil
	}

	switch strings.ToUpper(sendID) {
	case sia.IDSIA:
		if len(sendCode) != 2 {
			return "", fmt.Errorf("SIA event code must be two letters, got %q", sendCode)
		}
		return fmt.Sprintf("Nri%s/%s%s", sendZone, strings.ToUpper(sendCode), sendMessage), nil
	case sia.IDContactID:
		code, err := strconv.Atoi(sendCode)
		if err != nil || code < 0 || code > 999 {
			return "", fmt.Errorf("Contact ID event code must be three digits, got %q", sendCode)
		}
		zone, err := strconv.Atoi(sendZone)
		if err != nil || zone < 0 || zone > 999 {
			return "", fmt.Errorf("Contact ID zone must be 0-999, got %q", sendZone)
		}
		return fmt.Sprintf("%s%03d %s %03d", sendQualifier, code, sendPartition, zone), nil
	case sia.IDNull, sia.IDOpenHold:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported message token %q (supported: %s, %s, %s)", sendID, sia.IDSIA, sia.IDContactID, sia.IDNull)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	data, err := buildData()
	if err != nil {
		return err
	}

	target := host
	if target == "" {
		target = "127.0.0.1"
	}
	addr := net.JoinHostPort(target, strconv.Itoa(port))

	client := sia.NewClient(addr,
		sia.WithNetwork(sendNetwork),
		sia.WithTimeout(timeout),
		sia.WithClientLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer client.Close()

	formatter := NewFormatter(outputFmt)

	for i := 0; i < sendCount; i++ {
		seq := sendSequence
		if seq == 0 || i > 0 {
			seq = client.NextSequence()
		}

		m := sia.Outbound{
			ID:           strings.ToUpper(sendID),
			Sequence:     seq,
			Receiver:     sendReceiver,
			Prefix:       sendPrefix,
			Account:      sendAccount,
			Data:         data,
			ExtendedData: sendExtended,
			Key:          sendKey,
		}
		if !sendNoTimestamp {
			m.Timestamp = time.Now().UTC().Add(sendSkew)
		}

		reqCtx, reqCancel := context.WithTimeout(context.Background(), timeout)
		start := time.Now()
		resp, err := client.Send(reqCtx, m)
		rtt := time.Since(start)
		reqCancel()
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		if err := formatter.PrintResponse(resp, []byte(sendKey), rtt); err != nil {
			return err
		}
	}

	return nil
}
