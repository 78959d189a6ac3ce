package ir

type FunctionId int

// Function delimits a per-function entry range.  The range is a closed
// interval: LastEntry is the final entry belonging to the function.
type Function struct {
	name string
	id   FunctionId

	firstEntry Entry
	lastEntry  Entry
}

func (fn *Function) Name() string      { return fn.name }
func (fn *Function) Id() FunctionId    { return fn.id }
func (fn *Function) FirstEntry() Entry { return fn.firstEntry }
func (fn *Function) LastEntry() Entry  { return fn.lastEntry }

// EntryLimit returns the entry just past the function, nil at section
// end.
func (fn *Function) EntryLimit() Entry {
	if fn.lastEntry == nil {
		return nil
	}
	return fn.lastEntry.Next()
}
