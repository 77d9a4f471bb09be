package serial

import "fmt"

// OpenLink opens name as a Nexus trace serial link: raw mode, 8N1, no
// flow control, at the given baud rate. It is the configuration the SWT
// server (internal/swt) expects from -device/-baud.
//
// Unlike a general purpose terminal, a trace link is never a controlling
// tty and never wants canonical-mode line editing, so MakeRaw is always
// applied before the baud rate is programmed.
func OpenLink(device string, baud int) (*Port, error) {
	p, err := Open(device, NewOptions().SetReadTimeout(0))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := p.MakeRaw(); err != nil {
		p.Close()
		return nil, fmt.Errorf("makeraw %s: %w", device, err)
	}
	if err := setBaud(p, baud); err != nil {
		p.Close()
		return nil, fmt.Errorf("setbaud %s: %w", device, err)
	}
	return p, nil
}

// setBaud programs an arbitrary baud rate via termios2/BOTHER, falling
// back to the nearest CBAUD-encoded rate on kernels/drivers that reject it.
func setBaud(p *Port, baud int) error {
	attrs, err := p.GetAttr2()
	if err != nil {
		return err
	}
	attrs.SetCustomSpeed(uint32(baud))
	if err := p.SetAttr2(TCSANOW, attrs); err == nil {
		return nil
	}
	std, ok := standardBaud[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	a, err := p.GetAttr()
	if err != nil {
		return err
	}
	a.SetSpeed(std)
	return p.SetAttr(TCSANOW, a)
}

var standardBaud = map[int]CFlag{
	9600:    B9600,
	19200:   B19200,
	38400:   B38400,
	57600:   B57600,
	115200:  B115200,
	230400:  B230400,
	460800:  B460800,
	921600:  B921600,
	1000000: B1000000,
	1500000: B1500000,
	2000000: B2000000,
}
