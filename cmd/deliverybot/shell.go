package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/mastercactapus/deliverybot/machine"
	"github.com/mastercactapus/deliverybot/routine"
)

var errUsage = errors.New("wrong number of arguments, see help")

// parseMove reads "<direction> [sensor] <distance>".
func parseMove(args []string) (machine.MoveRequest, error) {
	var req machine.MoveRequest
	if len(args) != 2 && len(args) != 3 {
		return req, errUsage
	}
	var err error
	req.Direction, err = machine.ParseDirection(args[0])
	if err != nil {
		return req, err
	}
	if len(args) == 3 {
		req.Mode, err = machine.ParseSensorMode(args[1])
		if err != nil {
			return req, err
		}
	}
	req.Distance, err = strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil {
		return req, err
	}
	return req, req.Validate()
}

func newShell(ctx context.Context, m routine.Robot, pos Positions, runner *routine.Runner) *ishell.Shell {
	shell := ishell.New()
	shell.Println("Delivery robot shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "move",
		Help: "move <direction> [none|front|back] <distance>",
		Func: func(c *ishell.Context) {
			req, err := parseMove(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			p, err := m.Move(ctx, req)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println("Position:", p)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "chassis",
		Help: "chassis <stable|x|y>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errUsage)
				return
			}
			mode, err := machine.ParseChassisMode(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			err = m.SetChassisMode(ctx, mode)
			if err != nil {
				c.Err(err)
			}
		},
	})

	for _, cmd := range []machine.GripperCommand{machine.Grasp, machine.Release, machine.Fix, machine.Unfix} {
		cmd := cmd
		shell.AddCmd(&ishell.Cmd{
			Name: cmd.String(),
			Help: "send '" + cmd.String() + "' to the gripper",
			Func: func(c *ishell.Context) {
				err := m.Actuate(ctx, cmd)
				if err != nil {
					c.Err(err)
				}
			},
		})
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "position",
		Help: "print the last known position",
		Func: func(c *ishell.Context) {
			s := pos.Snapshot()
			if !s.Known {
				c.Println("Position unknown")
				return
			}
			c.Printf("Position: %s (frame %d)\n", s.Position, s.Seq)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "run",
		Help: "run <routine> <order_id>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(errUsage)
				return
			}
			err := runner.Run(ctx, c.Args[0], c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			c.Println("Success")
		},
	})

	return shell
}
