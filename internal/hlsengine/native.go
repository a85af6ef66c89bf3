package hlsengine

import (
	"streamwall/internal/player"
	"streamwall/internal/supervisor"
)

// Native makes an engine look like built-in HLS support to a player.Element.
// Fatal engine errors surface as the element's error signal and recovery is
// left to the supervisor's retry path.
type Native struct {
	Factory *Factory
	Config  supervisor.EngineConfig
}

var _ player.NativeSource = (*Native)(nil)

// Open starts an engine playing src into el.
func (n *Native) Open(src string, el *player.Element, onFatal func(error)) func() {
	eng, err := n.Factory.New(n.Config)
	if err != nil {
		onFatal(err)
		return func() {}
	}
	eng.OnError(func(e supervisor.EngineError) {
		if e.Fatal {
			onFatal(e)
		}
	})
	eng.LoadSource(src)
	eng.AttachMedia(el)
	return eng.Destroy
}
