// Command radioctl sends a single command frame to a node over a
// serial-attached radio and waits for its ACK, then exits. Grounded on the
// teacher's cmd/npioff — a small one-shot control utility built directly
// against the transport, without the gateway's queue/retry machinery.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	basestation "github.com/lss-lora/basestation"
	"github.com/lss-lora/basestation/radio"
)

var (
	serialPath = kingpin.Flag("device", "Path to serial port device").Required().String()
	baudRate   = kingpin.Flag("baud", "Serial port baudrate").Default("57600").Uint()
	nodeID     = kingpin.Flag("node", "Target node id").Required().Uint8()
	command    = kingpin.Flag("command", "Command to send: ping, restart, get-config, factory-reset").Required().Enum("ping", "restart", "get-config", "factory-reset")
	timeout    = kingpin.Flag("timeout", "Time to wait for the ACK").Default("5s").Duration()
)

var commandCodes = map[string]uint8{
	"ping":          basestation.CmdPing,
	"restart":       basestation.CmdRestart,
	"get-config":    basestation.CmdGetConfig,
	"factory-reset": basestation.CmdFactoryReset,
}

func main() {
	kingpin.Version("0.1")
	kingpin.Parse()

	if basestation.IsReservedNode(*nodeID) {
		fmt.Fprintf(os.Stderr, "node %d is reserved and cannot be addressed\n", *nodeID)
		os.Exit(1)
	}

	log := logrus.StandardLogger()
	transport, err := radio.NewSerialTransport(*serialPath, *baudRate, radio.Params{}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening serial radio: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()

	frame, err := basestation.BuildCommand(commandCodes[*command], *nodeID, 1, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building command frame: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := transport.Send(ctx, frame); err != nil {
		fmt.Fprintf(os.Stderr, "error sending command: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("sent %s to node %d, awaiting ack...\n", *command, *nodeID)
	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		rec, err := transport.Receive(ctx, time.Until(deadline))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error waiting for ack: %v\n", err)
			os.Exit(1)
		}
		if basestation.DetectKind(rec.Frame) != basestation.FrameAck {
			continue
		}
		ack, err := basestation.ParseAck(rec.Frame)
		if err != nil {
			continue
		}
		if ack.TargetID != *nodeID || ack.Seq != 1 {
			continue
		}
		if ack.CommandType == basestation.CmdAck {
			fmt.Println("ack received")
			return
		}
		fmt.Println("nack received")
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "timed out waiting for ack")
	os.Exit(1)
}
