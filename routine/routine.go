package routine

import (
	"embed"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/mastercactapus/deliverybot/machine"
)

//go:embed routines/*.yaml
var builtin embed.FS

// MoveStep is the YAML form of a move.
type MoveStep struct {
	Direction string  `yaml:"direction"`
	Distance  float64 `yaml:"distance"`
	Sensor    string  `yaml:"sensor,omitempty"`
}

// Step is a single action in a routine. Exactly one field must be set.
type Step struct {
	Move        *MoveStep     `yaml:"move,omitempty"`
	Chassis     string        `yaml:"chassis,omitempty"`
	Actuate     string        `yaml:"actuate,omitempty"`
	Wait        time.Duration `yaml:"wait,omitempty"`
	RobotStatus string        `yaml:"robot_status,omitempty"`
	OrderStatus string        `yaml:"order_status,omitempty"`
	ItemsStatus string        `yaml:"items_status,omitempty"`
	Archive     bool          `yaml:"archive,omitempty"`

	action action
}

// Routine is a fixed sequence of steps, such as a delivery or a return.
type Routine struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes and validates a YAML routine.
func Parse(data []byte) (*Routine, error) {
	var r Routine
	err := yaml.UnmarshalStrict(data, &r)
	if err != nil {
		return nil, errors.Wrap(err, "decode routine")
	}
	if r.Name == "" {
		return nil, errors.New("routine has no name")
	}
	for i := range r.Steps {
		r.Steps[i].action, err = r.Steps[i].compile()
		if err != nil {
			return nil, errors.Wrapf(err, "routine %s step %d", r.Name, i+1)
		}
	}
	return &r, nil
}

func (s Step) compile() (action, error) {
	var set int
	var a action
	if s.Move != nil {
		set++
		req, err := s.Move.request()
		if err != nil {
			return nil, err
		}
		a = moveAction(req)
	}
	if s.Chassis != "" {
		set++
		mode, err := machine.ParseChassisMode(s.Chassis)
		if err != nil {
			return nil, err
		}
		a = chassisAction(mode)
	}
	if s.Actuate != "" {
		set++
		cmd, err := machine.ParseGripperCommand(s.Actuate)
		if err != nil {
			return nil, err
		}
		a = actuateAction(cmd)
	}
	if s.Wait != 0 {
		set++
		if s.Wait < 0 {
			return nil, fmt.Errorf("negative wait %s", s.Wait)
		}
		a = waitAction(s.Wait)
	}
	if s.RobotStatus != "" {
		set++
		a = robotStatusAction(s.RobotStatus)
	}
	if s.OrderStatus != "" {
		set++
		a = orderStatusAction(s.OrderStatus)
	}
	if s.ItemsStatus != "" {
		set++
		a = itemsStatusAction(s.ItemsStatus)
	}
	if s.Archive {
		set++
		a = archiveAction
	}

	if set != 1 {
		return nil, fmt.Errorf("expected exactly one action, got %d", set)
	}
	return a, nil
}

func (m MoveStep) request() (machine.MoveRequest, error) {
	var req machine.MoveRequest
	var err error
	req.Direction, err = machine.ParseDirection(m.Direction)
	if err != nil {
		return req, err
	}
	if m.Sensor != "" {
		req.Mode, err = machine.ParseSensorMode(m.Sensor)
		if err != nil {
			return req, err
		}
	}
	req.Distance = m.Distance
	return req, req.Validate()
}

// Builtin returns the routines shipped with the robot.
func Builtin() ([]*Routine, error) {
	names, err := builtin.ReadDir("routines")
	if err != nil {
		return nil, err
	}
	var res []*Routine
	for _, ent := range names {
		data, err := builtin.ReadFile("routines/" + ent.Name())
		if err != nil {
			return nil, err
		}
		r, err := Parse(data)
		if err != nil {
			return nil, errors.Wrap(err, ent.Name())
		}
		res = append(res, r)
	}
	return res, nil
}

// LoadDir reads every *.yaml routine in dir.
func LoadDir(dir string) ([]*Routine, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var res []*Routine
	for _, name := range files {
		data, err := ioutil.ReadFile(name)
		if err != nil {
			return nil, err
		}
		r, err := Parse(data)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		res = append(res, r)
	}
	return res, nil
}

// Merge returns base with any routine of the same name replaced by one from overrides.
func Merge(base, overrides []*Routine) []*Routine {
	byName := make(map[string]int, len(base))
	res := append([]*Routine(nil), base...)
	for i, r := range res {
		byName[r.Name] = i
	}
	for _, r := range overrides {
		if i, ok := byName[r.Name]; ok {
			res[i] = r
			continue
		}
		byName[r.Name] = len(res)
		res = append(res, r)
	}
	return res
}
