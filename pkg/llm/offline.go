package llm

import "context"

// Offline is a Client that never touches the network. Respond maps a prompt
// to a canned response; when Respond is nil or returns false, Complete yields
// an empty string, which downstream parsing treats as an unscored result.
// Batch structure and result ordering behave exactly as with a live client,
// so timing-independent logic can be exercised without credentials.
type Offline struct {
	Name    string
	Respond func(prompt string) (string, bool)
}

func (o *Offline) Model() string {
	if o.Name == "" {
		return "offline"
	}
	return o.Name
}

func (o *Offline) Complete(_ context.Context, prompt string) (string, error) {
	if o.Respond != nil {
		if res, ok := o.Respond(prompt); ok {
			return res, nil
		}
	}
	return "", nil
}
