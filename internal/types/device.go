package types

// Inventory is the device inventory file. Devices may be listed under
// "devices" or, in the legacy layout, as a name to address map under "VPro".
type Inventory struct {
	Devices []DeviceDefinition `json:"devices,omitempty" yaml:"devices,omitempty"`
	VPro    map[string]string  `json:"VPro,omitempty" yaml:"VPro,omitempty"`
}

// DeviceDefinition describes one configured VPRO unit.
type DeviceDefinition struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Host        string `json:"host" yaml:"host" mapstructure:"host"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port"`
	MatrixPath  string `json:"matrix_path,omitempty" yaml:"matrix_path,omitempty" mapstructure:"matrix_path"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Device Runtime Info
type DeviceInfo struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Address     string `json:"address"`
	MatrixPath  string `json:"matrix_path,omitempty"`
	Description string `json:"description,omitempty"`
}

// PortRef is one matrix port in the legacy matrix response.
type PortRef struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// RouteEntry is one target of the legacy matrix response, keyed by target
// index.
type RouteEntry struct {
	Target  PortRef   `json:"target"`
	Sources []PortRef `json:"sources"`
}

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	VPro   string `json:"vpro" binding:"required"`
	Source any    `json:"source"`
	Target any    `json:"target"`
}
