package mock

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/vnet"
)

// VNet is a virtual LAN for running real peer connections in one process.
type VNet struct {
	router *vnet.Router
	nets   []transport.Net
}

// NewVNet creates a started virtual LAN with n hosts on 1.2.3.0/24. Host
// i gets 1.2.3.(i+4).
func NewVNet(n int, lf logging.LoggerFactory) (*VNet, error) {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "1.2.3.0/24",
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	ret := &VNet{router: router}
	for i := 0; i < n; i++ {
		nw, err := vnet.NewNet(&vnet.NetConfig{
			StaticIPs: []string{fmt.Sprintf("1.2.3.%d", i+4)},
		})
		if err != nil {
			return nil, err
		}
		if err := router.AddNet(nw); err != nil {
			return nil, err
		}
		ret.nets = append(ret.nets, nw)
	}
	if err := router.Start(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Net returns the network of host i.
func (v *VNet) Net(i int) transport.Net {
	return v.nets[i]
}

// Close stops the router.
func (v *VNet) Close() error {
	return v.router.Stop()
}
