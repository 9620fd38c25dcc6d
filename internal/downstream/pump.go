// pump.go -- the read loop that feeds one downstream connection's
// de-obfuscated bytes into the circuit table
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package downstream

import (
	"io"

	L "github.com/opencoff/go-logger"

	"github.com/jamiepg4/stegotorus/internal/mux"
)

// pump reads de-obfuscated bytes from d's adapter until it errors,
// dispatching every complete block through t. It is meant to run in
// its own goroutine for the lifetime of the connection.
func pump(t *mux.Table, d *mux.Downstream, log *L.Logger) {
	for {
		b, err := d.Adapter.Receive()
		if len(b) > 0 {
			if herr := t.HandleInbound(d, b); herr != nil {
				log.Debug("downstream: protocol error, closing: %s", herr)
				d.Adapter.Close()
				return
			}
		}

		if err != nil {
			if c := d.Circuit(); c != nil {
				if err == io.EOF {
					c.HandleDownstreamEOF(t, d)
				} else {
					c.DropDownstream(d)
				}
			}
			d.Adapter.Close()
			return
		}
	}
}
