package trainer

// Columns is the header of the persisted results table.
var Columns = []string{"epoch", "train_acc", "test_acc", "train_loss", "test_loss"}

// EpochRecord summarises one finished epoch.
type EpochRecord struct {
	Epoch     int
	TrainAcc  float64
	TestAcc   float64
	TrainLoss float64
	TestLoss  float64
}

// Row orders the record like Columns.
func (r EpochRecord) Row() []float64 {
	return []float64{float64(r.Epoch), r.TrainAcc, r.TestAcc, r.TrainLoss, r.TestLoss}
}
