package config

import (
	"strings"
)

// Validate checks the configuration's cross references and value ranges.
// It returns a *ConfigurationError describing the first violation found.
func (c *Config) Validate() error {
	participants, err := c.validateParticipants()
	if err != nil {
		return err
	}

	meshes, err := c.validateMeshes()
	if err != nil {
		return err
	}

	connections, err := c.validateConnections(participants)
	if err != nil {
		return err
	}

	return c.validateScheme(participants, meshes, connections)
}

func (c *Config) validateParticipants() (map[string]ParticipantConfig, error) {
	if len(c.Participants) < 2 {
		return nil, invalid("participants",
			"a coupled run needs at least two participants")
	}

	seen := make(map[string]ParticipantConfig)
	for _, p := range c.Participants {
		if strings.TrimSpace(p.Name) == "" {
			return nil, invalid("participants", "participant without a name")
		}

		if _, dup := seen[p.Name]; dup {
			return nil, invalid("participants",
				"duplicate participant %q", p.Name)
		}

		if p.Ranks < 1 {
			return nil, invalid("participants",
				"participant %q needs at least one rank", p.Name)
		}

		seen[p.Name] = p
	}

	return seen, nil
}

func (c *Config) validateMeshes() (map[string]map[string]DataConfig, error) {
	if len(c.Meshes) == 0 {
		return nil, invalid("meshes", "a coupled run needs at least one mesh")
	}

	meshes := make(map[string]map[string]DataConfig)
	for _, m := range c.Meshes {
		if strings.TrimSpace(m.Name) == "" {
			return nil, invalid("meshes", "mesh without a name")
		}

		if _, dup := meshes[m.Name]; dup {
			return nil, invalid("meshes", "duplicate mesh %q", m.Name)
		}

		data := make(map[string]DataConfig)
		for _, d := range m.Data {
			if strings.TrimSpace(d.Name) == "" {
				return nil, invalid("meshes",
					"mesh %q declares data without a name", m.Name)
			}

			if _, dup := data[d.Name]; dup {
				return nil, invalid("meshes",
					"mesh %q declares data %q twice", m.Name, d.Name)
			}

			if d.Dims < 1 {
				return nil, invalid("meshes",
					"data %q on mesh %q needs at least one dimension",
					d.Name, m.Name)
			}

			data[d.Name] = d
		}

		meshes[m.Name] = data
	}

	return meshes, nil
}

func (c *Config) validateConnections(
	participants map[string]ParticipantConfig,
) (map[[2]string]ConnectionConfig, error) {
	connections := make(map[[2]string]ConnectionConfig)

	for _, conn := range c.Connections {
		for _, name := range []string{conn.From, conn.To} {
			if _, ok := participants[name]; !ok {
				return nil, invalid("connections",
					"unknown participant %q", name)
			}
		}

		if conn.From == conn.To {
			return nil, invalid("connections",
				"participant %q cannot connect to itself", conn.From)
		}

		key := pairKey(conn.From, conn.To)
		if _, dup := connections[key]; dup {
			return nil, invalid("connections",
				"duplicate connection between %q and %q",
				conn.From, conn.To)
		}

		switch conn.Transport {
		case "socket":
			if strings.TrimSpace(conn.Address) == "" {
				return nil, invalid("connections",
					"socket connection %q-%q needs an address",
					conn.From, conn.To)
			}
		case "memory":
		default:
			return nil, invalid("connections",
				"unknown transport %q", conn.Transport)
		}

		switch conn.Strategy {
		case "gather-scatter", "point-to-point", "":
		default:
			return nil, invalid("connections",
				"unknown strategy %q", conn.Strategy)
		}

		connections[key] = conn
	}

	return connections, nil
}

func (c *Config) validateScheme(
	participants map[string]ParticipantConfig,
	meshes map[string]map[string]DataConfig,
	connections map[[2]string]ConnectionConfig,
) error {
	s := c.Scheme

	switch s.Kind {
	case "serial-explicit", "serial-implicit":
	default:
		return invalid("scheme.kind", "unknown scheme kind %q", s.Kind)
	}

	if s.MaxTime <= 0 && s.MaxWindows <= 0 {
		return invalid("scheme",
			"either max_time or max_windows must bound the run")
	}

	switch s.TimeWindow.Policy {
	case "fixed", "negotiated":
	default:
		return invalid("scheme.time_window",
			"unknown policy %q", s.TimeWindow.Policy)
	}

	if s.TimeWindow.Size <= 0 {
		return invalid("scheme.time_window",
			"window size must be positive")
	}

	switch s.OnFailure {
	case "abort", "accept":
	default:
		return invalid("scheme.on_failure",
			"unknown failure policy %q", s.OnFailure)
	}

	pair, err := c.validateExchanges(participants, meshes, connections)
	if err != nil {
		return err
	}

	if s.Kind == "serial-implicit" {
		return c.validateImplicitScheme(pair)
	}

	if len(s.Measures) > 0 {
		return invalid("scheme.measures",
			"convergence measures require an implicit scheme")
	}

	if s.Acceleration != nil {
		return invalid("scheme.acceleration",
			"acceleration requires an implicit scheme")
	}

	return nil
}

func (c *Config) validateExchanges(
	participants map[string]ParticipantConfig,
	meshes map[string]map[string]DataConfig,
	connections map[[2]string]ConnectionConfig,
) ([2]string, error) {
	var pair [2]string

	if len(c.Scheme.Exchanges) == 0 {
		return pair, invalid("scheme.exchanges",
			"a coupling scheme needs at least one exchange")
	}

	for i, ex := range c.Scheme.Exchanges {
		data, ok := meshes[ex.Mesh]
		if !ok {
			return pair, invalid("scheme.exchanges",
				"exchange %d references unknown mesh %q", i, ex.Mesh)
		}

		if _, ok := data[ex.Data]; !ok {
			return pair, invalid("scheme.exchanges",
				"exchange %d references undeclared data %q on mesh %q",
				i, ex.Data, ex.Mesh)
		}

		for _, name := range []string{ex.From, ex.To} {
			if _, ok := participants[name]; !ok {
				return pair, invalid("scheme.exchanges",
					"exchange %d references unknown participant %q",
					i, name)
			}
		}

		if ex.From == ex.To {
			return pair, invalid("scheme.exchanges",
				"exchange %d sends data to its own sender", i)
		}

		key := pairKey(ex.From, ex.To)
		if i == 0 {
			pair = key
		} else if key != pair {
			return pair, invalid("scheme.exchanges",
				"all exchanges must connect the same participant pair")
		}

		if _, ok := connections[key]; !ok {
			return pair, invalid("scheme.exchanges",
				"no connection configured between %q and %q",
				ex.From, ex.To)
		}
	}

	return pair, nil
}

func (c *Config) validateImplicitScheme(pair [2]string) error {
	s := c.Scheme

	if s.MaxIterations < 1 {
		return invalid("scheme.max_iterations",
			"implicit scheme needs a positive iteration limit")
	}

	if len(s.Measures) == 0 {
		return invalid("scheme.measures",
			"implicit scheme needs at least one convergence measure")
	}

	if s.Controller != pair[0] && s.Controller != pair[1] {
		return invalid("scheme.controller",
			"controller %q is not part of the coupled pair", s.Controller)
	}

	declared := make(map[string]bool)
	for _, ex := range s.Exchanges {
		declared[ex.Data] = true
	}

	for _, m := range s.Measures {
		switch m.Kind {
		case "absolute", "relative":
		default:
			return invalid("scheme.measures",
				"unknown measure kind %q", m.Kind)
		}

		if !declared[m.Data] {
			return invalid("scheme.measures",
				"measure references unexchanged data %q", m.Data)
		}

		if m.Limit <= 0 {
			return invalid("scheme.measures",
				"measure on %q needs a positive limit", m.Data)
		}
	}

	if a := s.Acceleration; a != nil {
		switch a.Kind {
		case "constant", "aitken":
		default:
			return invalid("scheme.acceleration",
				"unknown acceleration kind %q", a.Kind)
		}

		if a.Omega <= 0 || a.Omega > 1 {
			return invalid("scheme.acceleration",
				"relaxation factor must be in (0, 1]")
		}
	}

	return nil
}

// pairKey canonicalizes an unordered participant pair.
func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}

	return [2]string{b, a}
}
