package wizard

// StepStatus is one sidebar row.
type StepStatus struct {
	ID        StepID
	Label     string
	Completed bool
	Current   bool
	// Skipped marks a branch step the current answers route around.
	Skipped bool
}

// GroupProgress summarizes one step group.
type GroupProgress struct {
	ID        string
	Label     string
	Steps     []StepStatus
	Completed bool
	Current   bool
}

// Progress is the progress-bar and sidebar view of the wizard.
type Progress struct {
	Current StepID
	// CurrentIndex and Total count steps on the path the answers lead
	// through, not every step in the table.
	CurrentIndex int
	Total        int
	Completed    int
	// Percent is the share of path steps whose required fields are filled.
	Percent int
	Groups  []GroupProgress
}

// Progress computes completion per step and per group. Branch steps off the
// current path are skipped: they count toward neither total nor completion,
// and do not hold their group open.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.table.Path(c.session.FormData)
	onPath := make(map[StepID]int, len(path))
	for i, id := range path {
		onPath[id] = i
	}
	p := Progress{
		Current:      c.session.CurrentStep,
		CurrentIndex: c.table.Index(c.session.CurrentStep),
		Total:        len(path),
	}
	if i, ok := onPath[c.session.CurrentStep]; ok {
		p.CurrentIndex = i
	}
	for _, g := range c.table.groups {
		gp := GroupProgress{ID: g.ID, Label: g.Label, Completed: true}
		for _, id := range g.Steps {
			s := c.table.steps[id]
			current := id == c.session.CurrentStep
			if current {
				gp.Current = true
			}
			_, visited := onPath[id]
			if !visited && !current {
				gp.Steps = append(gp.Steps, StepStatus{ID: id, Label: s.Label, Skipped: true})
				continue
			}
			done := c.completedLocked(id)
			if done && visited {
				p.Completed++
			} else if !done {
				gp.Completed = false
			}
			gp.Steps = append(gp.Steps, StepStatus{ID: id, Label: s.Label, Completed: done, Current: current})
		}
		p.Groups = append(p.Groups, gp)
	}
	if p.Total > 0 {
		p.Percent = p.Completed * 100 / p.Total
	}
	return p
}
