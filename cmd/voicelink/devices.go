package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/MrWong99/voicelink/pkg/audio/portaudio"
)

// printDevices writes the host's audio devices as a table to stdout.
func printDevices() (err error) {
	terminate, err := portaudio.Initialize()
	if err != nil {
		return err
	}
	defer func() {
		if terr := terminate(); err == nil {
			err = terr
		}
	}()

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIN\tOUT\tRATE\tDEFAULT")
	for _, d := range devices {
		def := ""
		switch {
		case d.IsDefaultInput && d.IsDefaultOutput:
			def = "input,output"
		case d.IsDefaultInput:
			def = "input"
		case d.IsDefaultOutput:
			def = "output"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f\t%s\n", d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, def)
	}
	return tw.Flush()
}
