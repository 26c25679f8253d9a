//go:build unix

package main

import (
	"context"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	sing "github.com/sagernet/sing-socket"
	"github.com/sagernet/sing-socket/channel"
	"github.com/sagernet/sing-socket/common/atomic"
	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	"github.com/sagernet/sing-socket/common/random"
	"github.com/sagernet/sing-socket/common/task"
	"github.com/sagernet/sing-socket/eventloop"
	"github.com/sagernet/sing-socket/transport/socket"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	Bind           string
	Size           string
	Wait           time.Duration
	ConnectTimeout time.Duration
	FastOpen       bool
	NoDelay        bool
	Linger         int
	KeepAlive      time.Duration
	UserTimeout    time.Duration
	SendBuffer     string
	ReceiveBuffer  string
	LowWaterMark   string
	HighWaterMark  string
	MD5Key         string
	LogLevel       string
	Verbose        bool
}

func main() {
	f := new(flags)
	command := &cobra.Command{
		Use:     "sockprobe address:port",
		Short:   "Connect through a stream channel, send a payload and report the kernel's view of the connection",
		Version: sing.Version,
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := run(cmd.Context(), f, args[0])
			if err != nil {
				logrus.Fatal(err)
			}
		},
	}
	command.Flags().StringVarP(&f.Bind, "bind", "b", "", "Set the local address to bind before connecting.")
	command.Flags().StringVarP(&f.Size, "size", "s", "64KiB", "Set the payload size.")
	command.Flags().DurationVarP(&f.Wait, "wait", "w", time.Second, "Set how long to wait for a reply after the payload is sent.")
	command.Flags().DurationVar(&f.ConnectTimeout, "connect-timeout", 0, "Set the connect timeout.")
	command.Flags().BoolVar(&f.FastOpen, "fast-open", false, "Send the payload with the SYN using TCP fast open.")
	command.Flags().BoolVar(&f.NoDelay, "no-delay", false, "Enable TCP_NODELAY.")
	command.Flags().IntVar(&f.Linger, "linger", -1, "Set SO_LINGER in seconds, -1 disables it.")
	command.Flags().DurationVar(&f.KeepAlive, "keep-alive", 0, "Enable keepalive with the given idle time.")
	command.Flags().DurationVar(&f.UserTimeout, "user-timeout", 0, "Set TCP_USER_TIMEOUT.")
	command.Flags().StringVar(&f.SendBuffer, "send-buffer", "", "Set SO_SNDBUF.")
	command.Flags().StringVar(&f.ReceiveBuffer, "receive-buffer", "", "Set SO_RCVBUF.")
	command.Flags().StringVar(&f.LowWaterMark, "low-water-mark", units.BytesSize(channel.DefaultLowWaterMark), "Set the write buffer low water mark.")
	command.Flags().StringVar(&f.HighWaterMark, "high-water-mark", units.BytesSize(channel.DefaultHighWaterMark), "Set the write buffer high water mark.")
	command.Flags().StringVar(&f.MD5Key, "md5-key", "", "Sign segments to the remote address with TCP MD5.")
	command.Flags().StringVar(&f.LogLevel, "log-level", "info", "Set the log level.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode, same as --log-level trace.")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := command.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func parseSize(name string, value string) (int, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, E.Cause(err, "parse ", name)
	}
	return int(size), nil
}

func configure(config *channel.SocketConfig, f *flags, remote netip.AddrPort) error {
	low, err := parseSize("low water mark", f.LowWaterMark)
	if err != nil {
		return err
	}
	high, err := parseSize("high water mark", f.HighWaterMark)
	if err != nil {
		return err
	}
	err = config.SetWriteBufferWaterMark(low, high)
	if err != nil {
		return err
	}
	if f.ConnectTimeout > 0 {
		err = config.SetConnectTimeoutMillis(int(f.ConnectTimeout.Milliseconds()))
		if err != nil {
			return err
		}
	}
	config.SetTCPFastOpenConnect(f.FastOpen)
	if f.NoDelay {
		err = config.SetTCPNoDelay(true)
		if err != nil {
			return err
		}
	}
	if f.Linger >= 0 {
		err = config.SetSoLinger(f.Linger)
		if err != nil {
			return err
		}
	}
	if f.KeepAlive > 0 {
		err = config.SetKeepAlive(true)
		if err != nil {
			return err
		}
		err = config.SetTCPKeepIdle(f.KeepAlive)
		if err != nil {
			return err
		}
	}
	if f.UserTimeout > 0 {
		err = config.SetTCPUserTimeout(f.UserTimeout)
		if err != nil {
			return err
		}
	}
	if f.SendBuffer != "" {
		size, err := parseSize("send buffer", f.SendBuffer)
		if err != nil {
			return err
		}
		err = config.SetSendBufferSize(size)
		if err != nil {
			return err
		}
	}
	if f.ReceiveBuffer != "" {
		size, err := parseSize("receive buffer", f.ReceiveBuffer)
		if err != nil {
			return err
		}
		err = config.SetReceiveBufferSize(size)
		if err != nil {
			return err
		}
	}
	if f.MD5Key != "" {
		err = config.SetTCPMD5Sig(map[netip.Addr][]byte{remote.Addr(): []byte(f.MD5Key)})
		if err != nil {
			return err
		}
	}
	return nil
}

type probe struct {
	channel.HandlerAdapter
	logger   logrus.FieldLogger
	received atomic.Int64
	inactive chan struct{}
}

func (p *probe) ChannelActive(ch *channel.StreamChannel) {
	p.logger.Info("connected ", ch.LocalAddr(), " => ", ch.RemoteAddr())
}

func (p *probe) ChannelRead(ch *channel.StreamChannel, buffer *buf.Buffer) {
	p.received.Add(int64(buffer.Len()))
	buffer.Release()
}

func (p *probe) ChannelInputShutdown(ch *channel.StreamChannel) {
	p.logger.Debug("peer shut down its output")
}

func (p *probe) ChannelWritabilityChanged(ch *channel.StreamChannel, writable bool) {
	p.logger.Debug("writable: ", writable, ", pending until writable: ", units.BytesSize(float64(ch.BytesBeforeWritable())))
}

func (p *probe) ExceptionCaught(ch *channel.StreamChannel, err error) {
	p.logger.Warn(err)
}

func (p *probe) ChannelInactive(ch *channel.StreamChannel) {
	close(p.inactive)
}

func run(ctx context.Context, f *flags, address string) error {
	if f.Verbose {
		f.LogLevel = "trace"
	}
	err := log.SetLevel(f.LogLevel)
	if err != nil {
		return err
	}
	remote, err := netip.ParseAddrPort(address)
	if err != nil {
		return E.Cause(err, "parse address")
	}
	var local netip.AddrPort
	if f.Bind != "" {
		local, err = netip.ParseAddrPort(f.Bind)
		if err != nil {
			return E.Cause(err, "parse bind address")
		}
	}
	size, err := parseSize("payload size", f.Size)
	if err != nil {
		return err
	}

	loop, err := eventloop.New(ctx)
	if err != nil {
		return err
	}
	defer loop.Close()
	tcpSocket, err := socket.NewStream(channel.FamilyOf(remote.Addr()))
	if err != nil {
		return err
	}
	handler := &probe{
		logger:   log.NewLogger("sockprobe"),
		inactive: make(chan struct{}),
	}
	ch := channel.NewStreamChannel(loop, tcpSocket, handler)
	defer ch.Close()
	err = configure(ch.Config(), f, remote)
	if err != nil {
		return err
	}

	source, err := random.Blake3KeyedHash()
	if err != nil {
		return err
	}
	payload, err := random.Buffer(source, size)
	if err != nil {
		return err
	}
	// queued before connecting so fast open can carry it in the SYN
	written := ch.WriteAndFlush(payload)
	start := time.Now()
	_, err = ch.Connect(remote, local).Await(ctx)
	if err != nil {
		return err
	}
	handler.logger.Info("connect took ", time.Since(start))

	var group task.Group
	group.Append("write", func(ctx context.Context) error {
		_, err := written.Await(ctx)
		if err == nil {
			handler.logger.Info("sent ", units.BytesSize(float64(size)), " in ", time.Since(start))
		}
		return err
	})
	group.Append("read", func(ctx context.Context) error {
		select {
		case <-handler.inactive:
		case <-time.After(f.Wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	err = group.Run(ctx)
	if err != nil {
		return err
	}
	handler.logger.Info("received ", units.BytesSize(float64(handler.received.Load())))

	info, err := ch.TCPInfo()
	if err != nil {
		handler.logger.Warn("tcp info: ", err)
	} else {
		handler.logger.WithFields(logrus.Fields{
			"state":         info.State,
			"rtt":           time.Duration(info.RTT) * time.Microsecond,
			"rtt_var":       time.Duration(info.RTTVar) * time.Microsecond,
			"rto":           time.Duration(info.RTO) * time.Microsecond,
			"snd_mss":       info.SndMSS,
			"snd_cwnd":      info.SndCwnd,
			"total_retrans": info.TotalRetrans,
		}).Info("tcp info")
	}
	reportKernelSocket(handler.logger, ch.LocalAddr(), ch.RemoteAddr())

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = ch.Close().Await(closeCtx)
	return err
}
