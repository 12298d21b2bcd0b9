package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uthernet2/internal/card"
	"uthernet2/internal/codec"
	"uthernet2/internal/config"
	"uthernet2/internal/metrics"
	"uthernet2/internal/pkg/logger"
	"uthernet2/internal/register"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	runMetrics    bool
	runServe      bool
	runDumpConfig string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build one card and drive it through an ARP/DHCP demo scenario",
	Long: `run constructs a Card the way a CPU emulator would (through the
slot's four soft switches only) and plays a short scenario against it:
probe the slot ROM, bring socket 0 up in MAC-raw mode, send an ARP
request for the virtual gateway, and send a DHCP DISCOVER (no REQUEST
follows). After each step it prints how many bytes socket 0's RX ring
holds.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDemo()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "serve /metrics while the demo runs")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "keep the card alive afterward until interrupted")
	runCmd.Flags().StringVar(&runDumpConfig, "dump-config", "", "write the resolved configuration as YAML to this path and exit")
}

func runDemo() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		logger.Errorf("falling back to defaults: %v", err)
		cfg = config.Default()
	}

	if runDumpConfig != "" {
		if err := config.WriteConfig(cfg, runDumpConfig); err != nil {
			pterm.Error.Printfln("failed to write config: %v", err)
			return
		}
		pterm.Success.Printfln("resolved configuration written to %s", runDumpConfig)
		return
	}

	collector := metrics.New()
	if runMetrics || cfg.Metrics.Enabled {
		if err := collector.Serve(cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
			logger.Errorf("metrics server failed to start: %v", err)
		} else {
			pterm.Info.Printfln("metrics listening on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
		}
	}

	c := card.New(cfg, collector, logger.Infof)
	d := &driver{c: c}

	pterm.DefaultSection.Println("slot ROM probe")
	id1 := c.Access(0, -1, 5, -1)
	id2 := c.Access(0, -1, 7, -1)
	pterm.Success.Printfln("ROM id bytes: [5]=0x%02x [7]=0x%02x", id1, id2)

	pterm.DefaultSection.Println("socket 0: MAC-raw ARP request for the virtual gateway")
	d.openMACRaw(0)
	frame := arpRequestFrame(cfg)
	d.sendMACRaw(0, frame)
	waitAndReport(d, 0, "ARP")

	pterm.DefaultSection.Println("socket 0: DHCP DISCOVER")
	discover := dhcpDiscoverFrame(cfg)
	d.sendMACRaw(0, discover)
	waitAndReport(d, 0, "DHCP OFFER")

	if runServe {
		pterm.Info.Println("demo scenario complete; serving until interrupted (Ctrl-C)")
		waitForSignal()
	}

	if collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		collector.Shutdown(ctx)
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// waitAndReport polls the socket's Sn_RX_RSR a few times (mirroring
// the 0ms routine poll a real guest driver would observe on every
// register read) and reports what, if anything, landed in the RX ring.
func waitAndReport(d *driver, n int, label string) {
	for i := 0; i < 5; i++ {
		rsr := d.readSocketReg16(n, register.SnRXRSR0)
		if rsr > 0 {
			pterm.Success.Printfln("%s: %d bytes arrived in socket %d's RX ring", label, rsr, n)
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	pterm.Warning.Printfln("%s: nothing arrived in socket %d's RX ring", label, n)
}

// driver reproduces the bare MMIO access pattern a real W5100 driver
// uses: two address-pointer bytes and one auto-incrementing data port,
// all reached through the card's slot-I/O contract.
type driver struct {
	c *card.Card
}

func (d *driver) setMode(v byte) { d.c.Access(0, int(v), -1, card.SwitchMode) }

func (d *driver) setAddr(addr uint16) {
	d.c.Access(0, int(addr>>8), -1, card.SwitchAddrHi)
	d.c.Access(0, int(addr&0xff), -1, card.SwitchAddrLo)
}

func (d *driver) writeByte(b byte) { d.c.Access(0, int(b), -1, card.SwitchData) }
func (d *driver) readByte() byte   { return d.c.Access(0, -1, -1, card.SwitchData) }

func (d *driver) writeBytesAt(addr uint16, data []byte) {
	d.setMode(0x02) // auto-increment, no reset
	d.setAddr(addr)
	for _, b := range data {
		d.writeByte(b)
	}
	d.setMode(0x00)
}

func (d *driver) readSocketReg16(socket int, offset uint32) uint16 {
	base := register.SocketRegBaseAddr(socket)
	d.setMode(0x00)
	d.setAddr(uint16(base + offset))
	hi := d.readByte()
	d.setAddr(uint16(base + offset + 1))
	lo := d.readByte()
	return uint16(hi)<<8 | uint16(lo)
}

func (d *driver) writeSocketReg(socket int, offset uint32, v byte) {
	base := register.SocketRegBaseAddr(socket)
	d.setAddr(uint16(base + offset))
	d.writeByte(v)
}

func (d *driver) openMACRaw(socket int) {
	d.writeSocketReg(socket, register.SnMR, register.ModeMACRaw)
	d.writeSocketReg(socket, register.SnCR, register.CmdOpen)
}

func (d *driver) sendMACRaw(socket int, frame []byte) {
	wr := d.readSocketReg16(socket, register.SnTXWR0)
	base := register.SocketTXBaseAddr(socket)
	d.writeBytesAt(uint16(base)+wr%register.TXSockSize, frame)
	d.writeSocketReg16(socket, register.SnTXWR0, wr+uint16(len(frame)))
	d.writeSocketReg(socket, register.SnCR, register.CmdSendMAC)
}

func (d *driver) writeSocketReg16(socket int, offset uint32, v uint16) {
	base := register.SocketRegBaseAddr(socket)
	d.setAddr(uint16(base) + uint16(offset))
	d.writeByte(byte(v >> 8))
	d.setAddr(uint16(base) + uint16(offset) + 1)
	d.writeByte(byte(v))
}

func arpRequestFrame(cfg *config.Config) []byte {
	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	var senderIP, gatewayIP [4]byte
	fmt.Sscanf(cfg.Network.ClientIP, "%d.%d.%d.%d", &senderIP[0], &senderIP[1], &senderIP[2], &senderIP[3])
	fmt.Sscanf(cfg.Network.GatewayIP, "%d.%d.%d.%d", &gatewayIP[0], &gatewayIP[1], &gatewayIP[2], &gatewayIP[3])

	arp := codec.BuildARP(&codec.ARPPacket{
		Operation: codec.ARPOpRequest,
		SenderMAC: guestMAC,
		SenderIP:  senderIP,
		TargetIP:  gatewayIP,
	})
	return codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, guestMAC, codec.EthTypeARP, arp)
}

func dhcpDiscoverFrame(cfg *config.Config) []byte {
	guestMAC := [6]byte{0x02, 0x00, 0xde, 0xad, 0xbe, 0xef}
	var chaddr [16]byte
	copy(chaddr[:], guestMAC[:])

	dhcp := codec.BuildDHCP(codec.BootRequest, 0xC0FFEE, [4]byte{}, [4]byte{}, chaddr,
		[]byte{codec.OptMsgType, codec.OptParamReqList, codec.OptEnd},
		map[byte][]byte{
			codec.OptMsgType:      {codec.DHCPDiscover},
			codec.OptParamReqList: {codec.OptSubnetMask, codec.OptRouter, codec.OptDNS},
		})
	udpPkt := codec.BuildUDP([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.DHCPClientPort, codec.DHCPServerPort, dhcp)
	ipPkt := codec.BuildIPv4([4]byte{0, 0, 0, 0}, [4]byte{255, 255, 255, 255}, codec.ProtoUDP, 1, 64, udpPkt)
	return codec.BuildEthernet([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, guestMAC, codec.EthTypeIPv4, ipPkt)
}
