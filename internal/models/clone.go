package models

// Clone returns a deep copy of t. Slices and maps of the copy share nothing
// with the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Inputs = cloneParams(t.Inputs)
	c.Outputs = cloneParams(t.Outputs)
	if t.Resources != nil {
		r := *t.Resources
		r.Zones = cloneStrings(t.Resources.Zones)
		c.Resources = &r
	}
	if t.Executors != nil {
		c.Executors = make([]Executor, len(t.Executors))
		for i, e := range t.Executors {
			e.Command = cloneStrings(e.Command)
			e.Ports = clonePorts(e.Ports)
			e.Env = cloneMap(e.Env)
			c.Executors[i] = e
		}
	}
	c.Volumes = cloneStrings(t.Volumes)
	c.Tags = cloneMap(t.Tags)
	if t.Logs != nil {
		c.Logs = make([]TaskLog, len(t.Logs))
		for i, l := range t.Logs {
			c.Logs[i] = l.clone()
		}
	}
	return &c
}

func (l TaskLog) clone() TaskLog {
	c := l
	if l.Logs != nil {
		c.Logs = make([]ExecutorLog, len(l.Logs))
		for i, el := range l.Logs {
			el.Ports = clonePorts(el.Ports)
			c.Logs[i] = el
		}
	}
	c.Metadata = cloneMap(l.Metadata)
	if l.Outputs != nil {
		c.Outputs = append([]OutputFileLog(nil), l.Outputs...)
	}
	c.SystemLogs = cloneStrings(l.SystemLogs)
	return c
}

func cloneParams(in []TaskParameter) []TaskParameter {
	if in == nil {
		return nil
	}
	return append([]TaskParameter(nil), in...)
}

func clonePorts(in []Ports) []Ports {
	if in == nil {
		return nil
	}
	return append([]Ports(nil), in...)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
