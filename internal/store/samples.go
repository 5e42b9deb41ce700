package store

import (
	"errors"
	"fmt"
	"os"
)

const sampleRecipients = `Email,Nombre,Empresa,Mensaje_Personal
test1@ejemplo.com,Juan Carlos,MiniMarket Central,Hope business is going well!
test2@ejemplo.com,Maria Rodriguez,Tienda La Esquina,
test3@ejemplo.com,,Super Express,Thanks for your last order.
`

const sampleCampaigns = `campaigns:
  - id: "1"
    name: Summer products
    active: "sí"
    subject: New seasonal items from {EMPRESA_REMITENTE}
    body: |
      Hello {NOMBRE},

      {MENSAJE_PERSONAL}

      We have new items that would fit {EMPRESA} well. Reply to this message
      if you would like a quote.

      Enjoy your day,
      {REMITENTE_NOMBRE}
  - id: "2"
    name: Holiday collection
    active: "no"
    subject: Holiday collection, order before Nov 15
    body: |
      Hello {NOMBRE},

      The holiday season is approaching. Time to stock up for {EMPRESA}.

      Happy holidays,
      {REMITENTE_NOMBRE}
`

const sampleSettings = `sender:
  name: Your Name
  email: you@example.com
  company: Your Company
sending:
  daily_cap: 400
  work_hours: 8
  batch_size: 5
  batch_pause_minutes: 6
  start_immediately: true
`

// WriteSamples creates example files for those that do not exist yet and
// returns the names written. Existing files are never touched.
func (s *Store) WriteSamples() ([]string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	var written []string
	for _, f := range []struct{ name, content string }{
		{RecipientsFile, sampleRecipients},
		{CampaignsFile, sampleCampaigns},
		{SettingsFile, sampleSettings},
	} {
		file, err := os.OpenFile(s.Path(f.name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return written, err
		}
		_, werr := file.WriteString(f.content)
		if cerr := file.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return written, werr
		}
		written = append(written, f.name)
	}
	return written, nil
}
