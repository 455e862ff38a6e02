package checkpoints

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary checkpoint layout. The layout is a plain
// protobuf message so other tools can read it with a matching .proto file:
//
//	message Checkpoint {
//	  repeated WeightTensor weights = 1;
//	  TrainingState training_state = 2;
//	  OptimizerState optimizer_state = 3;
//	  Metadata metadata = 4;
//	}
const (
	fieldCheckpointWeights   protowire.Number = 1
	fieldCheckpointTraining  protowire.Number = 2
	fieldCheckpointOptimizer protowire.Number = 3
	fieldCheckpointMetadata  protowire.Number = 4

	fieldTensorName  protowire.Number = 1
	fieldTensorShape protowire.Number = 2
	fieldTensorData  protowire.Number = 3
	fieldTensorLayer protowire.Number = 4 // StateType for optimizer tensors
	fieldTensorType  protowire.Number = 5

	fieldStateEpoch        protowire.Number = 1
	fieldStateStep         protowire.Number = 2
	fieldStateLearningRate protowire.Number = 3
	fieldStateValAccuracy  protowire.Number = 4
	fieldStateBestAccuracy protowire.Number = 5
	fieldStateBestEpoch    protowire.Number = 6

	fieldOptType      protowire.Number = 1
	fieldOptStepCount protowire.Number = 2
	fieldOptHyper     protowire.Number = 3
	fieldOptStateData protowire.Number = 4

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldMetaVersion   protowire.Number = 1
	fieldMetaFramework protowire.Number = 2
	fieldMetaBaseModel protowire.Number = 3
	fieldMetaCreatedAt protowire.Number = 4
	fieldMetaDesc      protowire.Number = 5
	fieldMetaTags      protowire.Number = 6
)

var errTruncated = errors.New("truncated checkpoint message")

// MarshalProto encodes a checkpoint in protobuf wire format.
func MarshalProto(c *Checkpoint) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil checkpoint")
	}

	var b []byte
	for _, w := range c.Weights {
		b = appendMessage(b, fieldCheckpointWeights, appendTensor(nil, w.Name, w.Shape, w.Data, w.Layer, w.Type))
	}
	b = appendMessage(b, fieldCheckpointTraining, appendTrainingState(nil, c.TrainingState))
	if c.OptimizerState != nil {
		b = appendMessage(b, fieldCheckpointOptimizer, appendOptimizerState(nil, c.OptimizerState))
	}
	b = appendMessage(b, fieldCheckpointMetadata, appendMetadata(nil, c.Metadata))
	return b, nil
}

// UnmarshalProto decodes a checkpoint written by MarshalProto. Unknown fields
// are skipped.
func UnmarshalProto(b []byte, c *Checkpoint) error {
	*c = Checkpoint{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldCheckpointWeights:
			var w WeightTensor
			if err := decodeTensor(v, &w.Name, &w.Shape, &w.Data, &w.Layer, &w.Type); err != nil {
				return fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, w)
		case fieldCheckpointTraining:
			return decodeTrainingState(v, &c.TrainingState)
		case fieldCheckpointOptimizer:
			c.OptimizerState = &OptimizerState{}
			return decodeOptimizerState(v, c.OptimizerState)
		case fieldCheckpointMetadata:
			return decodeMetadata(v, &c.Metadata)
		}
		return nil
	})
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendTensor(b []byte, name string, shape []int, data []float32, layer, kind string) []byte {
	b = appendString(b, fieldTensorName, name)

	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	packed = make([]byte, 0, 4*len(data))
	for _, f := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(f))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	b = appendString(b, fieldTensorLayer, layer)
	b = appendString(b, fieldTensorType, kind)
	return b
}

func appendTrainingState(b []byte, s TrainingState) []byte {
	b = appendVarint(b, fieldStateEpoch, protowire.EncodeZigZag(int64(s.Epoch)))
	b = appendVarint(b, fieldStateStep, protowire.EncodeZigZag(int64(s.Step)))
	b = appendDouble(b, fieldStateLearningRate, s.LearningRate)
	b = appendDouble(b, fieldStateValAccuracy, s.ValAccuracy)
	b = appendDouble(b, fieldStateBestAccuracy, s.BestAccuracy)
	b = appendVarint(b, fieldStateBestEpoch, protowire.EncodeZigZag(int64(s.BestEpoch)))
	return b
}

func appendOptimizerState(b []byte, s *OptimizerState) []byte {
	b = appendString(b, fieldOptType, s.Type)
	b = appendVarint(b, fieldOptStepCount, uint64(s.StepCount))

	keys := make([]string, 0, len(s.Hyperparameters))
	for k := range s.Hyperparameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := appendString(nil, fieldEntryKey, k)
		entry = appendDouble(entry, fieldEntryValue, s.Hyperparameters[k])
		b = appendMessage(b, fieldOptHyper, entry)
	}

	for _, t := range s.StateData {
		b = appendMessage(b, fieldOptStateData, appendTensor(nil, t.Name, t.Shape, t.Data, t.StateType, ""))
	}
	return b
}

func appendMetadata(b []byte, m CheckpointMetadata) []byte {
	b = appendString(b, fieldMetaVersion, m.Version)
	b = appendString(b, fieldMetaFramework, m.Framework)
	b = appendString(b, fieldMetaBaseModel, m.BaseModelName)
	if !m.CreatedAt.IsZero() {
		b = appendVarint(b, fieldMetaCreatedAt, protowire.EncodeZigZag(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, fieldMetaDesc, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, fieldMetaTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

// walkFields calls fn for every field of a message. Length-delimited values
// are passed in v, varint and fixed values in x.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(b)
			x = uint64(x32)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

func decodeTensor(b []byte, name *string, shape *[]int, data *[]float32, layer, kind *string) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldTensorName:
			*name = string(v)
		case fieldTensorShape:
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				*shape = append(*shape, int(d))
				v = v[n:]
			}
		case fieldTensorData:
			if len(v)%4 != 0 {
				return errTruncated
			}
			out := make([]float32, 0, len(v)/4)
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				out = append(out, math.Float32frombits(bits))
				v = v[n:]
			}
			*data = out
		case fieldTensorLayer:
			*layer = string(v)
		case fieldTensorType:
			*kind = string(v)
		}
		return nil
	})
}

func decodeTrainingState(b []byte, s *TrainingState) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldStateEpoch:
			s.Epoch = int(protowire.DecodeZigZag(x))
		case fieldStateStep:
			s.Step = int(protowire.DecodeZigZag(x))
		case fieldStateLearningRate:
			s.LearningRate = math.Float64frombits(x)
		case fieldStateValAccuracy:
			s.ValAccuracy = math.Float64frombits(x)
		case fieldStateBestAccuracy:
			s.BestAccuracy = math.Float64frombits(x)
		case fieldStateBestEpoch:
			s.BestEpoch = int(protowire.DecodeZigZag(x))
		}
		return nil
	})
}

func decodeOptimizerState(b []byte, s *OptimizerState) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldOptType:
			s.Type = string(v)
		case fieldOptStepCount:
			s.StepCount = int(x)
		case fieldOptHyper:
			var key string
			var value float64
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
				switch num {
				case fieldEntryKey:
					key = string(v)
				case fieldEntryValue:
					value = math.Float64frombits(x)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if s.Hyperparameters == nil {
				s.Hyperparameters = make(map[string]float64)
			}
			s.Hyperparameters[key] = value
		case fieldOptStateData:
			var t OptimizerTensor
			var unused string
			if err := decodeTensor(v, &t.Name, &t.Shape, &t.Data, &t.StateType, &unused); err != nil {
				return fmt.Errorf("optimizer tensor %d: %w", len(s.StateData), err)
			}
			s.StateData = append(s.StateData, t)
		}
		return nil
	})
}

func decodeMetadata(b []byte, m *CheckpointMetadata) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldMetaVersion:
			m.Version = string(v)
		case fieldMetaFramework:
			m.Framework = string(v)
		case fieldMetaBaseModel:
			m.BaseModelName = string(v)
		case fieldMetaCreatedAt:
			m.CreatedAt = time.Unix(0, protowire.DecodeZigZag(x))
		case fieldMetaDesc:
			m.Description = string(v)
		case fieldMetaTags:
			m.Tags = append(m.Tags, string(v))
		}
		return nil
	})
}
