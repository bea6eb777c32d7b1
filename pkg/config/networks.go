package config

import (
	"sort"
	"time"
)

// NetworkPreset contains network-specific default values.
type NetworkPreset struct {
	// ChainID is the network chain ID.
	ChainID uint64

	// PollInterval is the reconciler tick.
	PollInterval time.Duration

	// DefaultRPC is the default public RPC endpoint.
	DefaultRPC string

	// RelayerURL is the decryption relayer for this network.
	RelayerURL string

	// PresaleFactory and ZWETH are the known deployments, empty when the
	// network has none.
	PresaleFactory string
	ZWETH          string
}

// NetworkPresets contains all supported network configurations.
var NetworkPresets = map[string]NetworkPreset{
	"sepolia": {
		ChainID:      11155111,
		PollInterval: 12 * time.Second,
		DefaultRPC:   "https://ethereum-sepolia-rpc.publicnode.com",
		RelayerURL:   "https://relayer.testnet.zama.org",

		PresaleFactory: "0x3Aa9D27A418Ed5703f6c70D001B56B7Ab3F217a6",
		ZWETH:          "0x2772325360B50e173fA8Ab79310D7e4b061fFECb",
	},
	"localhost": {
		ChainID:      31337,
		PollInterval: 2 * time.Second,
		DefaultRPC:   "http://127.0.0.1:8545",
		RelayerURL:   "http://127.0.0.1:3000",
	},
}

// GetNetworkPreset returns the preset for a network name.
//
// Parameters:
//   - network (string): the network name
//
// Returns:
//   - NetworkPreset: the network preset
//   - bool: true if found, false otherwise
func GetNetworkPreset(network string) (NetworkPreset, bool) {
	preset, ok := NetworkPresets[network]
	return preset, ok
}

// SupportedNetworks returns the supported network names in sorted order.
func SupportedNetworks() []string {
	networks := make([]string, 0, len(NetworkPresets))
	for name := range NetworkPresets {
		networks = append(networks, name)
	}
	sort.Strings(networks)
	return networks
}
