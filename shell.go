package main

import (
	"errors"
	"strconv"

	"github.com/CodedInternet/gopigeon/onboard"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/abiosoft/ishell"
)

// NewShell builds the development shell. Every command takes the pigeon name first.
func NewShell(ob *onboard.Onboard) *ishell.Shell {
	pigeonNames := func([]string) []string {
		return ob.Names()
	}

	device := func(c *ishell.Context, usage string, nargs int) (*onboard.Device, bool) {
		if len(c.Args) < nargs {
			c.Err(errors.New("usage: " + usage))
			return nil, false
		}
		d, err := ob.Pigeon(c.Args[0])
		if err != nil {
			c.Err(err)
			return nil, false
		}
		return d, true
	}

	angle := func(c *ishell.Context, s string) (float64, bool) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			c.Err(err)
			return 0, false
		}
		return v, true
	}

	shell := ishell.New()
	shell.Println("Pigeon development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name:      "status",
		Completer: pigeonNames,
		Help:      "status <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "status <name>", 1)
			if !ok {
				return
			}
			status, err := d.GetGeneralStatus()
			if err != nil {
				c.Err(err)
			}
			c.Printf("%s: %s\n", d, status.State)
			c.Println(status.Description)
			if err == nil {
				c.Printf("mode %s, temp %.1fC, up %ds\n", status.CurrentMode, status.TempC, status.UpTimeSec)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "ypr",
		Completer: pigeonNames,
		Help:      "ypr <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "ypr <name>", 1)
			if !ok {
				return
			}
			ypr, err := d.GetYawPitchRoll()
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("Y:%.3f P:%.3f R:%.3f\n", ypr[0], ypr[1], ypr[2])
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "fused",
		Completer: pigeonNames,
		Help:      "fused <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "fused <name>", 1)
			if !ok {
				return
			}
			fused, err := d.GetFusedHeading()
			if err != nil {
				c.Err(err)
			}
			c.Printf("%.3f %s\n", fused.Heading, fused.Description)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "compass",
		Completer: pigeonNames,
		Help:      "compass <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "compass <name>", 1)
			if !ok {
				return
			}
			heading, err := d.GetAbsoluteCompassHeading()
			if err != nil {
				c.Err(err)
				return
			}
			field, _ := d.GetCompassFieldStrength()
			c.Printf("%.3f deg, %.2f uT\n", heading, field)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "setyaw",
		Completer: pigeonNames,
		Help:      "setyaw <name> <degrees>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "setyaw <name> <degrees>", 2)
			if !ok {
				return
			}
			if v, ok := angle(c, c.Args[1]); ok {
				if err := d.SetYaw(v, d.TimeoutMs); err != nil {
					c.Err(err)
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "addyaw",
		Completer: pigeonNames,
		Help:      "addyaw <name> <degrees>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "addyaw <name> <degrees>", 2)
			if !ok {
				return
			}
			if v, ok := angle(c, c.Args[1]); ok {
				if err := d.AddYaw(v, d.TimeoutMs); err != nil {
					c.Err(err)
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "cal",
		Completer: pigeonNames,
		Help:      "cal <name> <BootTareGyroAccel|Temperature|Magnetometer12Pt|Magnetometer360|Accelerometer>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "cal <name> <mode>", 2)
			if !ok {
				return
			}
			mode, err := pigeon.ParseCalibrationMode(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			if err := d.EnterCalibrationMode(mode, d.TimeoutMs); err != nil {
				c.Err(err)
				return
			}
			c.Printf("%s entered %s calibration\n", d, mode)
		},
	})

	{
		paramCmd := &ishell.Cmd{
			Name: "param",
			Help: "read or write a configuration parameter",
		}

		paramCmd.AddCmd(&ishell.Cmd{
			Name:      "get",
			Completer: pigeonNames,
			Help:      "param get <name> <param> [ordinal]",
			Func: func(c *ishell.Context) {
				d, ok := device(c, "param get <name> <param> [ordinal]", 2)
				if !ok {
					return
				}
				param, err := pigeon.ParseParamEnum(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				var ordinal int
				if len(c.Args) > 2 {
					if ordinal, err = strconv.Atoi(c.Args[2]); err != nil {
						c.Err(err)
						return
					}
				}
				value, err := d.ConfigGetParameter(param, ordinal, d.TimeoutMs)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("%s[%d] = %v\n", param, ordinal, value)
			},
		})

		paramCmd.AddCmd(&ishell.Cmd{
			Name:      "set",
			Completer: pigeonNames,
			Help:      "param set <name> <param> <value>",
			Func: func(c *ishell.Context) {
				d, ok := device(c, "param set <name> <param> <value>", 3)
				if !ok {
					return
				}
				param, err := pigeon.ParseParamEnum(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				value, err := strconv.ParseFloat(c.Args[2], 64)
				if err != nil {
					c.Err(err)
					return
				}
				if err := d.ConfigSetParameter(param, value, d.TimeoutMs); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(paramCmd)
	}

	shell.AddCmd(&ishell.Cmd{
		Name:      "reset",
		Completer: pigeonNames,
		Help:      "reset <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "reset <name>", 1)
			if !ok {
				return
			}
			occurred, err := d.HasResetOccurred()
			if err != nil {
				c.Err(err)
				return
			}
			count, _ := d.GetResetCount()
			flags, _ := d.GetResetFlags()
			vers, _ := d.GetFirmVers()
			c.Printf("reset since last check: %v, count %d, flags 0x%04X, firmware %s\n",
				occurred, count, flags, firmwareString(vers))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "frames",
		Completer: pigeonNames,
		Help:      "frames <name>",
		Func: func(c *ishell.Context) {
			d, ok := device(c, "frames <name>", 1)
			if !ok {
				return
			}
			ids := d.IDs()
			for _, frame := range d.Cache.Frames() {
				kind, known := ids.Kind(frame.ArbID)
				if !known {
					continue
				}
				c.Printf("%-16s 0x%08X %016X %6dms\n", kind, frame.ArbID, frame.Payload, frame.Age.Nanoseconds()/1e6)
			}
		},
	})

	return shell
}
