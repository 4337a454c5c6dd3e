package commands

import (
	"strconv"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/cli"

	"github.com/spf13/cobra"
)

var devicesDirection string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the devices the audio host can capture from.

With --direction output the list shows the sources that carry system audio:
WASAPI render endpoints on Windows, PulseAudio monitor sources on Linux and
virtual loopback devices such as BlackHole on macOS.

Examples:
  flcaption devices
  flcaption devices --direction output --host portaudio
  flcaption devices --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := capture.ParseDirection(devicesDirection)
		if err != nil {
			return err
		}
		host, release, err := openHost(hostName)
		if err != nil {
			return err
		}
		defer release()

		devs, err := host.Devices(dir)
		if err != nil {
			return err
		}
		printVerbose("%s host, %d %s devices", host.Name(), len(devs), dir)
		if len(devs) == 0 && !outputJSON {
			cli.PrintWarning("No %s devices found", dir)
			return nil
		}
		return outputResult(deviceList(devs), outputFormat(cli.FormatTable))
	},
}

func init() {
	devicesCmd.Flags().StringVar(&devicesDirection, "direction", "input", "input or output")
}

type deviceList []capture.Device

func (d deviceList) Table() ([]string, [][]string) {
	rows := make([][]string, len(d))
	for i, dev := range d {
		def := ""
		if dev.Default {
			def = "*"
		}
		rows[i] = []string{def, dev.Name, cli.FormatSampleRate(dev.SampleRate), strconv.Itoa(dev.Channels), dev.ID}
	}
	return []string{"", "NAME", "RATE", "CHANNELS", "ID"}, rows
}
