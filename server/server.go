// Package server ties the reactor, transport listener, routers, module
// registry and MUC component together into the construction/accept/
// shutdown sequence of spec §4.7.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"
	"golang.org/x/sys/unix"

	"github.com/xmp3io/xmp3/auth"
	"github.com/xmp3io/xmp3/c2s"
	"github.com/xmp3io/xmp3/jid"
	"github.com/xmp3io/xmp3/log"
	"github.com/xmp3io/xmp3/module"
	"github.com/xmp3io/xmp3/muc"
	"github.com/xmp3io/xmp3/reactor"
	"github.com/xmp3io/xmp3/router"
	"github.com/xmp3io/xmp3/storage"
	"github.com/xmp3io/xmp3/transport"
)

// ClientCallback is notified when a client a module registered interest
// in disconnects. data is the opaque value the module supplied when
// registering, returned unchanged.
type ClientCallback func(client *c2s.Client, data interface{})

// clientListener is one (client, callback, data) registration. Go func
// values aren't comparable with ==, so cb is compared by its underlying
// code pointer, mirroring the original's void* function-pointer
// equality.
type clientListener struct {
	client *c2s.Client
	cb     ClientCallback
	cbPtr  uintptr
	data   interface{}
}

func callbackPtr(cb ClientCallback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Config bundles the settings Server needs beyond what it derives from
// the storage/auth components the caller constructs separately.
type Config struct {
	BindAddress       string
	Port              int
	Domain            string
	MUCSubdomain      string
	TLS               *tls.Config
	ReceiveBufferSize int
}

// Server owns the listening socket, the two routers, the module
// registry, the MUC component, the live client table and the
// client-listener list modules use to learn when a specific client
// disconnects.
type Server struct {
	cfg      Config
	rct      *reactor.Reactor
	listener *transport.Listener

	StanzaRouter *router.StanzaRouter
	IQRouter     *router.IQRouter
	Modules      *module.Registry

	repo   storage.Repository
	authrs []auth.Authenticator
	muc    *muc.Service

	clients map[string]*c2s.Client

	clientListenersMu sync.Mutex
	clientListeners   []clientListener

	// wsControlR/wsControlW bridge net/http's goroutine-per-connection
	// upgrade handler onto the reactor thread: the HTTP handler only
	// ever enqueues an upgraded *websocket.Conn and wakes this pipe;
	// the actual c2s.Client/reactor.Register/clients-map mutation runs
	// from onWSAcceptable, on the reactor thread, preserving the
	// single-threaded invariant for every shared structure (spec §5).
	wsControlR, wsControlW int
	wsMu                   sync.Mutex
	wsPending              []*websocket.Conn
}

// defaultDiscoInfo is the identity/feature set advertised for the server JID.
var defaultDiscoInfo = module.DiscoInfo{
	Category: "server",
	Type:     "im",
	Name:     "xmp3d",
	Features: []string{
		module.NamespaceDiscoInfo,
		module.NamespaceDiscoItems,
		module.NamespaceRoster,
	},
}

// New constructs the TLS-ready listener, pre-populates the built-in
// routes (server JID, MUC sub-domain, and the four built-in IQ
// namespaces), and registers the listening fd with rct. It does not
// start accepting connections until rct.Run is called by the caller.
func New(cfg Config, rct *reactor.Reactor, repo storage.Repository, authrs []auth.Authenticator) (*Server, error) {
	listener, err := transport.Listen(cfg.BindAddress, cfg.Port, 128)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		rct:          rct,
		listener:     listener,
		StanzaRouter: router.NewStanzaRouter(),
		IQRouter:     router.NewIQRouter(),
		Modules:      module.NewRegistry(),
		repo:         repo,
		authrs:       authrs,
		clients:      make(map[string]*c2s.Client),
	}

	if err := s.registerBuiltins(); err != nil {
		listener.Close()
		return nil, err
	}

	if err := rct.Register(listener.Fd(), s.onAcceptable); err != nil {
		listener.Close()
		return nil, fmt.Errorf("server: register listener: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		listener.Close()
		return nil, fmt.Errorf("server: websocket control pipe: %w", err)
	}
	s.wsControlR, s.wsControlW = pipeFds[0], pipeFds[1]
	if err := rct.Register(s.wsControlR, s.onWSAcceptable); err != nil {
		listener.Close()
		return nil, fmt.Errorf("server: register websocket control pipe: %w", err)
	}
	return s, nil
}

// enqueueWebSocket is called from net/http's upgrade handler goroutine;
// it only ever touches wsPending under wsMu and wakes the control pipe.
func (s *Server) enqueueWebSocket(conn *websocket.Conn) {
	s.wsMu.Lock()
	s.wsPending = append(s.wsPending, conn)
	s.wsMu.Unlock()
	unix.Write(s.wsControlW, []byte{0})
}

// onWSAcceptable runs on the reactor thread: it drains every upgraded
// connection enqueued since the last wake-up and finishes constructing
// its Client there, so reactor.Register and the clients map are never
// touched from the HTTP goroutine.
func (s *Server) onWSAcceptable() {
	var b [64]byte
	for {
		n, err := unix.Read(s.wsControlR, b[:])
		if n <= 0 || err != nil {
			break
		}
	}
	s.wsMu.Lock()
	pending := s.wsPending
	s.wsPending = nil
	s.wsMu.Unlock()

	for _, conn := range pending {
		s.acceptWebSocket(conn)
	}
}

func (s *Server) acceptWebSocket(conn *websocket.Conn) {
	sock, err := transport.NewWebSocket(conn)
	if err != nil {
		log.Errorf("server: websocket bridge: %v", err)
		conn.Close()
		return
	}
	id := uuid.New()
	c2sCfg := &c2s.Config{
		Domain:         s.cfg.Domain,
		RecvBufferSize: s.cfg.ReceiveBufferSize,
	}
	client, err := c2s.New(id, sock, s.rct, c2sCfg, s.StanzaRouter, s.authrs, true, s.onClientClose)
	if err != nil {
		log.Errorf("server: register websocket client %s: %v", id, err)
		sock.Close()
		return
	}
	s.clients[id] = client
	log.Infof("server: accepted websocket client %s", id)
}

func (s *Server) registerBuiltins() error {
	serverJID, err := jid.New("", s.cfg.Domain, "")
	if err != nil {
		return fmt.Errorf("server: server jid: %w", err)
	}
	s.StanzaRouter.Add(serverJID, s.StanzaRouter.CoreHandler(s.IQRouter), nil)

	if s.cfg.MUCSubdomain != "" {
		if !muc.IsSubDomain(s.cfg.Domain, s.cfg.MUCSubdomain) {
			return fmt.Errorf("server: muc_subdomain %q is not a sub-domain of %q", s.cfg.MUCSubdomain, s.cfg.Domain)
		}
		// A bare-domain pattern would only match the sub-domain itself
		// (jid.Match), never a room@sub-domain target; the explicit
		// wildcard local is what makes this a catch-all for every room.
		mucJID, err := jid.New(jid.Wildcard, s.cfg.MUCSubdomain, "")
		if err != nil {
			return fmt.Errorf("server: muc jid: %w", err)
		}
		s.muc = muc.NewService(s.StanzaRouter)
		s.StanzaRouter.Add(mucJID, s.muc.Handler(), nil)
	}

	s.IQRouter.Add(module.SessionRouteKey(), module.SessionHandler(s.StanzaRouter), nil)
	s.IQRouter.Add(module.RosterRouteKey(), module.RosterHandler(s.StanzaRouter, s.repo), nil)
	s.IQRouter.Add(module.DiscoInfoRouteKey(), module.DiscoInfoHandler(s.StanzaRouter, defaultDiscoInfo), nil)

	var items []module.DiscoItem
	if s.cfg.MUCSubdomain != "" {
		items = append(items, module.DiscoItem{JID: s.cfg.MUCSubdomain, Name: "Chatrooms"})
	}
	s.IQRouter.Add(module.DiscoItemsRouteKey(), module.DiscoItemsHandler(s.StanzaRouter, items), nil)
	return nil
}

// onAcceptable drains every pending connection on the listening socket,
// per spec §4.7's accept step: a fresh client, a plain socket, the
// auth-start sink installed, registered with the reactor.
func (s *Server) onAcceptable() {
	for {
		fd, peer, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return
			}
			log.Errorf("server: accept: %v", err)
			return
		}
		id := uuid.New()
		sock := transport.NewSocket(fd)
		c2sCfg := &c2s.Config{
			Domain:        s.cfg.Domain,
			MaxStanzaSize: 0,
			RecvBufferSize: s.cfg.ReceiveBufferSize,
			TLS:           s.cfg.TLS,
		}
		client, err := c2s.New(id, sock, s.rct, c2sCfg, s.StanzaRouter, s.authrs, false, s.onClientClose)
		if err != nil {
			log.Errorf("server: register client %s (%s): %v", id, peer, err)
			sock.Close()
			continue
		}
		s.clients[id] = client
		log.Infof("server: accepted %s from %s", id, peer)
	}
}

// AddClientListener registers cb to be called once, with data, when
// client disconnects. Modules reach this through the *Server they are
// handed in Start, the same way they reach StanzaRouter/IQRouter.
// Registering the same (client, cb, data) triple twice is a no-op; the
// duplicate is logged and dropped.
func (s *Server) AddClientListener(client *c2s.Client, cb ClientCallback, data interface{}) {
	ptr := callbackPtr(cb)
	s.clientListenersMu.Lock()
	defer s.clientListenersMu.Unlock()
	for _, l := range s.clientListeners {
		if l.client == client && l.cbPtr == ptr && l.data == data {
			log.Warnf("server: attempted to add duplicate client listener for %s", client.ID)
			return
		}
	}
	s.clientListeners = append(s.clientListeners, clientListener{client: client, cb: cb, cbPtr: ptr, data: data})
}

// RemoveClientListener undoes a prior AddClientListener call with the
// same (client, cb, data) triple. Removing one that isn't registered is
// logged and otherwise ignored.
func (s *Server) RemoveClientListener(client *c2s.Client, cb ClientCallback, data interface{}) {
	ptr := callbackPtr(cb)
	s.clientListenersMu.Lock()
	defer s.clientListenersMu.Unlock()
	for i, l := range s.clientListeners {
		if l.client == client && l.cbPtr == ptr && l.data == data {
			s.clientListeners = append(s.clientListeners[:i], s.clientListeners[i+1:]...)
			return
		}
	}
	log.Warnf("server: attempted to remove non-existent client listener for %s", client.ID)
}

// fireClientListeners calls and discards every listener registered
// against client: a client that has already disconnected once can't
// disconnect again, so there is nothing left to match on a second fire.
func (s *Server) fireClientListeners(client *c2s.Client) {
	s.clientListenersMu.Lock()
	var fired []clientListener
	remaining := s.clientListeners[:0]
	for _, l := range s.clientListeners {
		if l.client == client {
			fired = append(fired, l)
		} else {
			remaining = append(remaining, l)
		}
	}
	s.clientListeners = remaining
	s.clientListenersMu.Unlock()

	for _, l := range fired {
		l.cb(client, l.data)
	}
}

func (s *Server) onClientClose(c *c2s.Client) {
	delete(s.clients, c.ID)
	s.fireClientListeners(c)
}

// Shutdown tears down every live client, stops modules in reverse load
// order, and releases the listening fd, per spec §4.7.
func (s *Server) Shutdown() {
	for _, c := range s.clients {
		c.Disconnect(nil)
	}
	s.clients = make(map[string]*c2s.Client)
	s.Modules.Stop()
	s.rct.Deregister(s.listener.Fd())
	s.listener.Close()
	s.rct.Deregister(s.wsControlR)
	unix.Close(s.wsControlR)
	unix.Close(s.wsControlW)
}
