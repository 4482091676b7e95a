// Package network provides annotated model fixtures shared by engine tests.
//
// The types form a compact vehicle-network configuration exercising every
// annotation combination: implied folder and file names, folder-shaped
// sequences with directory and file entries, folder-shaped maps, single-file
// nested models and sequences, fixed-path naming, and optional externals.
package network

// Vehicle is the root model of a configuration tree.
type Vehicle struct {
	Name      string              `yaml:"-" canopy:"implied,folder"`
	Schema    string              `yaml:"schema"`
	ECUs      []ECU               `yaml:"-" canopy:"external,folder,name=ecus"`
	Services  []Service           `yaml:"-" canopy:"external,folder"`
	Endpoints map[string]Endpoint `yaml:"-" canopy:"external,folder"`
	Network   *NetworkDefaults    `yaml:"-" canopy:"external,optional"`
}

// ECU entries are directories: the implied folder name doubles as the entry
// name, so an ECU lives at ecus/<name>/ecu<ext>.
type ECU struct {
	Name   string `yaml:"-" canopy:"implied,folder"`
	Vendor string `yaml:"vendor"`
	Ports  []Port `yaml:"-" canopy:"external"`
}

// Port is a plain inline model; the whole port list of an ECU is serialized
// into one file.
type Port struct {
	Name  string `yaml:"name"`
	Speed int    `yaml:"speed_mbps"`
}

// Service entries are files: the implied file name doubles as the entry
// name, so a service lives at services/<name><ext>.
type Service struct {
	Name  string `yaml:"-" canopy:"implied,filename"`
	Port  uint16 `yaml:"port"`
	Major uint8  `yaml:"major_version"`
}

// Endpoint entries are keyed by the map key.
type Endpoint struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// NetworkDefaults is an optional single-file external.
type NetworkDefaults struct {
	MTU  int `yaml:"mtu"`
	VLAN int `yaml:"vlan"`
}

// Catalog has no inline fields at all: it writes no document file of its
// own, only its children.
type Catalog struct {
	Types []Datatype `yaml:"-" canopy:"external,folder,name=types"`
}

// Datatype entries fall back to the name field for their file names.
type Datatype struct {
	Name string `yaml:"name"`
	Base string `yaml:"base"`
}

// SampleVehicle returns a fully populated Vehicle for round-trip tests.
func SampleVehicle() *Vehicle {
	return &Vehicle{
		Name:   "demo_car",
		Schema: "v1",
		ECUs: []ECU{
			{
				Name:   "front_left",
				Vendor: "acme",
				Ports: []Port{
					{Name: "eth0", Speed: 1000},
					{Name: "eth1", Speed: 100},
				},
			},
			{
				Name:   "gateway",
				Vendor: "initech",
				Ports:  []Port{{Name: "eth0", Speed: 10000}},
			},
		},
		Services: []Service{
			{Name: "diagnostics", Port: 30490, Major: 1},
			{Name: "telemetry", Port: 30501, Major: 2},
		},
		Endpoints: map[string]Endpoint{
			"broadcast": {Address: "239.0.0.1", Port: 30490},
			"unicast":   {Address: "10.0.0.1", Port: 30491},
		},
		Network: &NetworkDefaults{MTU: 1500, VLAN: 12},
	}
}
