package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/spf13/cobra"
)

var (
	serialPort   string
	baud         int
	bitrate      int
	deviceNumber int
	viaTalon     bool
	ping         bool
)

var rootCmd = &cobra.Command{
	Use:     "candump [interface]",
	Short:   "print every frame on a CAN bus, naming the frames of one Pigeon",
	Example: "  candump can0 -n 5\n  candump --port /dev/ttyACM0 -n 0 --talon",
	Args:    cobra.MaximumNArgs(1),
	RunE:    dump,
}

func init() {
	rootCmd.Flags().StringVar(&serialPort, "port", "", "use an SLCAN adapter on this serial port")
	rootCmd.Flags().IntVar(&baud, "baud", 115200, "SLCAN serial baud rate")
	rootCmd.Flags().IntVar(&bitrate, "bitrate", 1000000, "SLCAN CAN bitrate")
	rootCmd.Flags().IntVarP(&deviceNumber, "device", "n", 0, "pigeon device number")
	rootCmd.Flags().BoolVar(&viaTalon, "talon", false, "the pigeon is ribbon-cabled through a Talon SRX")
	rootCmd.Flags().BoolVar(&ping, "ping", true, "enable the pigeon status frame once at start")
}

func dump(cmd *cobra.Command, args []string) (err error) {
	ids, err := pigeon.NewArbIDMap(deviceNumber, viaTalon)
	if err != nil {
		return
	}

	var bus canbus.CANBusInterface
	switch {
	case serialPort != "":
		fmt.Println("Opening listener on", serialPort)
		bus, err = canbus.NewSLCANBus(serialPort, baud, bitrate)
	case len(args) == 1:
		fmt.Println("Opening listener on", args[0])
		bus, err = canbus.NewCANBus(args[0])
	default:
		return fmt.Errorf("need an interface or --port")
	}
	if err != nil {
		return
	}
	defer bus.Close()

	start := time.Now()
	bus.AddListener(func(msg canbus.CANMsg) {
		name := ""
		if kind, ok := ids.Kind(msg.ID); ok {
			name = kind.String()
		}

		var data strings.Builder
		for _, b := range msg.Data {
			fmt.Fprintf(&data, "%02x ", b)
		}
		fmt.Printf("%10.3f 0x%08x [%d] %-24s %s\n", time.Since(start).Seconds(), msg.ID, len(msg.Data), data.String(), name)
	})

	if ping {
		if err = bus.SendMsg(canbus.NewMsg(ids.ID(pigeon.CONTROL_1), 0x01, pigeon.CONTROL_1_LENGTH)); err != nil {
			return
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
