package hub

// Config points the hub at its data directory and the user-driven
// configuration files. Live reload only applies to the user-driven
// files, and endpoint or device changes still require a restart.
type Config struct {
	DataDir       string `json:"dataDir"`
	DevicesConfig string `json:"devicesConfig"`
	NetworkConfig string `json:"networkConfig"`
}
