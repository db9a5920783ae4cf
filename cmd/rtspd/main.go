// Command rtspd runs the embedded RTSP/1.0 and MJPEG HTTP servers
// described in spec.md: two cameras, H.264 over RTSP, MJPEG over RTSP or
// plain HTTP, a control bus, and a watchdog supervisor tying it together.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gtfodev/rtspd/pkg/auth"
	"github.com/gtfodev/rtspd/pkg/camera"
	"github.com/gtfodev/rtspd/pkg/config"
	"github.com/gtfodev/rtspd/pkg/control"
	"github.com/gtfodev/rtspd/pkg/encoder"
	"github.com/gtfodev/rtspd/pkg/logger"
	"github.com/gtfodev/rtspd/pkg/mjpeg"
	"github.com/gtfodev/rtspd/pkg/pipeline"
	"github.com/gtfodev/rtspd/pkg/rtcp"
	"github.com/gtfodev/rtspd/pkg/rtsp"
	"github.com/gtfodev/rtspd/pkg/stream"
	"github.com/gtfodev/rtspd/pkg/supervisor"
	"github.com/gtfodev/rtspd/pkg/transport"
)

const (
	cameraBack  = 0
	cameraFront = 1
)

func main() {
	fs := flag.NewFlagSet("rtspd", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("config", ".env", "path to the key=value config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Embedded RTSP/MJPEG camera server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting rtspd", "log_config", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "port", cfg.Port, "mjpeg_port", cfg.MjpegServerPort)

	serverIP := resolveServerIP(cfg.BindAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	userStore := auth.NewUserStore(cfg.Users)
	nonceStore := auth.NewNonceStore()
	authEngine := auth.NewEngine(userStore, nonceStore)

	sessions := rtsp.NewManager()
	ports := camera.NewPortAllocator()
	bus := camera.NewFrameBus()
	controlBus := control.NewBus()
	jpegAdapter := encoder.NewJPEGAdapter(nil)

	cameras := map[int]*pipeline.Camera{
		cameraBack:  pipeline.New(log.Logger, cameraBack, nil, nil, jpegAdapter, bus, cameraErrorLogger(log)),
		cameraFront: pipeline.New(log.Logger, cameraFront, nil, nil, jpegAdapter, bus, cameraErrorLogger(log)),
	}

	sup := supervisor.New(log.Logger, sessions, controlBus, supervisor.CameraControl{
		StopCamera: func(cameraID int) {
			if cam, ok := cameras[cameraID]; ok {
				cam.Stop()
			}
		},
		ParamCache: func(cameraID int) *encoder.ParamSetCache {
			if cam, ok := cameras[cameraID]; ok {
				return cam.ParamCache()
			}
			return nil
		},
	})

	rtspHooks := rtsp.Hooks{
		CameraEnabled: func(cameraID int) bool { return cameraEnabled(cfg, cameraID) },
		LatestParamSets: func(cameraID int) (sps, pps []byte) {
			cam, ok := cameras[cameraID]
			if !ok {
				return nil, nil
			}
			return cam.ParamCache().Get()
		},
		OnPlay:     onPlay(ctx, log, cameras, bus, jpegAdapter, sessions, sup),
		OnTeardown: onTeardown(log),
	}

	rtspServer := rtsp.NewServer(log.Logger, cfg, authEngine, sessions, ports, serverIP, rtspHooks)

	rtspLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))
	if err != nil {
		log.Error("failed to listen for rtsp", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := rtspServer.Serve(rtspLn); err != nil && ctx.Err() == nil {
			log.Error("rtsp server stopped unexpectedly", "error", err)
		}
	}()
	log.Info("rtsp server listening", "address", rtspLn.Addr().String())

	mjpegHooks := mjpeg.Hooks{
		AcquireCamera: func(cameraID int) {
			acquireCamera(ctx, log, cameras, cameraID, profileFor(cfg, cameraID))
			sup.SetMjpegViewers(cameraID, 1)
			sup.ReconcileOnce()
		},
		ReleaseCamera: func(cameraID int) {
			if cam, ok := cameras[cameraID]; ok {
				cam.Release()
			}
			sup.SetMjpegViewers(cameraID, 0)
			sup.ReconcileOnce()
		},
	}
	mjpegServer := mjpeg.NewServer(log.Logger, cfg, authEngine, bus, jpegAdapter, mjpegHooks, nonceStore.Count)
	if err := mjpegServer.Start(fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.MjpegServerPort)); err != nil {
		log.Error("failed to start mjpeg server", "error", err)
		os.Exit(1)
	}

	go sup.Run(ctx)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mjpegServer.Stop(shutdownCtx); err != nil {
		log.Warn("mjpeg server shutdown error", "error", err)
	}
	for _, session := range sessions.All() {
		_, _ = sessions.Teardown(session.ID)
	}
	_ = rtspLn.Close()
	for _, cam := range cameras {
		cam.Stop()
	}
	sup.Wait()

	log.Info("graceful shutdown complete")
}

func cameraEnabled(cfg *config.Config, cameraID int) bool {
	switch cameraID {
	case cameraBack:
		return cfg.BackCameraEnabled
	case cameraFront:
		return cfg.FrontCameraEnabled
	default:
		return false
	}
}

// profileFor maps the two fixed cameras onto the two configured video
// profiles: back camera streams primary_profile, front camera streams
// secondary_profile. spec.md's configuration surface names both profiles
// but never defines which camera uses which — this is the most natural
// one-to-one reading, recorded as an Open Question decision in DESIGN.md.
func profileFor(cfg *config.Config, cameraID int) config.VideoProfile {
	if cameraID == cameraFront {
		return cfg.SecondaryProfile
	}
	return cfg.PrimaryProfile
}

func acquireCamera(ctx context.Context, log *logger.Logger, cameras map[int]*pipeline.Camera, cameraID int, profile config.VideoProfile) {
	cam, ok := cameras[cameraID]
	if !ok {
		return
	}
	if err := cam.Acquire(ctx, profile.Width, profile.Height, profile.MaxBitrate); err != nil {
		log.Warn("camera acquire failed", "camera_id", cameraID, "error", err)
	}
}

// onPlay wires a freshly-PLAYing RTSP session to its transport-appropriate
// PacketSender and starts its StreamLoop, per spec.md §4.7.
func onPlay(ctx context.Context, log *logger.Logger, cameras map[int]*pipeline.Camera, bus *camera.FrameBus, jpegAdapter *encoder.JPEGAdapter, sessions *rtsp.Manager, sup *supervisor.Supervisor) rtsp.OnPlayFunc {
	return func(session *rtsp.Session, writer *rtsp.FrameWriter, negotiated transport.Negotiated) {
		cam, ok := cameras[session.CameraID]
		if !ok {
			return
		}

		acquireCamera(ctx, log, cameras, session.CameraID, session.Profile)

		sender, stopFeedback, err := buildSender(log, session, writer, negotiated, cam, sessions)
		if err != nil {
			log.Warn("failed to build packet sender", "session", session.ID, "error", err)
			cam.Release()
			return
		}

		var frameBus *camera.FrameBus
		var jpegEnc *encoder.JPEGAdapter
		var queue *encoder.FrameQueue
		if session.Codec == rtsp.CodecH264 {
			queue = encoder.NewFrameQueue()
			cam.RegisterQueue(session.ID, queue)
		} else {
			frameBus = bus
			jpegEnc = jpegAdapter
		}

		loop := stream.NewLoop(stream.Params{
			Log:      log.Logger,
			Session:  session,
			Sender:   sender,
			CameraID: session.CameraID,
			Codec:    session.Codec,

			FrameQueue: queue,
			ParamCache: cam.ParamCache(),

			FrameBus: frameBus,
			JPEGEnc:  jpegEnc,

			OnExit: func(s *rtsp.Session) {
				if queue != nil {
					cam.UnregisterQueue(s.ID)
				}
				stopFeedback()
				cam.Release()
				sup.ReconcileOnce()
			},
		})

		go loop.Run(context.Background())
	}
}

func onTeardown(log *logger.Logger) rtsp.OnTeardownFunc {
	return func(session *rtsp.Session) {
		log.Debug("session torn down", "session", session.ID, "camera_id", session.CameraID)
	}
}

// buildSender constructs the transport-appropriate PacketSender for a
// session and returns a cleanup func to stop its RTCP listener, if any,
// once the StreamLoop exits.
func buildSender(log *logger.Logger, session *rtsp.Session, writer *rtsp.FrameWriter, negotiated transport.Negotiated, cam *pipeline.Camera, sessions *rtsp.Manager) (stream.PacketSender, func(), error) {
	if negotiated.Mode == transport.ModeTCP {
		return stream.NewInterleavedSender(writer, negotiated.ChannelRTP, negotiated.ChannelRTCP), func() {}, nil
	}

	sender, err := stream.NewUDPSender(session.ClientAddr, negotiated.ClientRTPPort, negotiated.ClientRTCPPort)
	if err != nil {
		return nil, nil, err
	}

	listener, err := stream.NewRTCPListener(log.Logger, session, negotiated.ServerRTCPPort)
	if err != nil {
		_ = sender.Close()
		return nil, nil, err
	}
	// spec.md §4.6: BYE tears the session down immediately rather than
	// waiting on the inactivity/send-error thresholds — Teardown flips
	// Playing false, which the StreamLoop observes on its very next
	// iteration and exits on.
	listener.OnBye = func() {
		if _, err := sessions.Teardown(session.ID); err != nil {
			log.Warn("teardown on rtcp bye failed", "session", session.ID, "error", err)
		}
	}
	listener.OnFeedback = func(fb rtcp.Feedback) {
		applyFeedback(log, session, cam, fb)
	}

	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	go listener.Run(listenerCtx)

	return sender, listenerCancel, nil
}

// applyFeedback pushes one Receiver-Report-derived Feedback decision into
// the encoder (H.264 bitrate) and the session's MJPEG quality, per
// spec.md §4.6's adaptive-bitrate/quality response table.
func applyFeedback(log *logger.Logger, session *rtsp.Session, cam *pipeline.Camera, fb rtcp.Feedback) {
	if fb.BitrateMultiplier != 0 {
		current := cam.CurrentBitrate()
		next := rtcp.ApplyBitrate(current, fb, session.Profile.MinBitrate, session.Profile.MaxBitrate)
		if next != current {
			if err := cam.SetBitrate(next); err != nil {
				log.Warn("set bitrate failed", "session", session.ID, "error", err)
			} else {
				log.Debug("adjusted bitrate", "session", session.ID, "from_bps", current, "to_bps", next, "should_up", fb.ShouldUp)
			}
		}
	}

	if fb.QualityMultiplier != 0 {
		current := session.CurrentQuality()
		next := rtcp.ApplyQuality(current, fb)
		if next != current {
			session.SetQuality(next)
			log.Debug("adjusted mjpeg quality", "session", session.ID, "from_quality", current, "to_quality", next)
		}
	}
}

func cameraErrorLogger(log *logger.Logger) camera.ErrorFunc {
	return func(cameraID int, err error) {
		log.Error("camera error", "camera_id", cameraID, "error", err)
	}
}

// resolveServerIP picks the address advertised in SDP/Content-Base: the
// configured bind address if it's a concrete interface, or the machine's
// outbound IP discovered via a connected UDP socket (no packets are
// actually sent) when bound to 0.0.0.0.
func resolveServerIP(bindAddress string) string {
	if bindAddress != "" && bindAddress != "0.0.0.0" && bindAddress != "::" {
		return bindAddress
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return localAddr.IP.String()
}
